package moderate

import (
	"net/url"
	"strings"
)

// StockDomains are stock photo hosts. An upload served from one of them is a
// re-post of licensed material, not original content.
var StockDomains = []string{
	"shutterstock",
	"gettyimages",
	"istockphoto",
	"adobestock",
	"stock.adobe",
	"depositphotos",
	"dreamstime",
	"123rf",
	"alamy",
	"bigstockphoto",
	"stocksy",
	"eyeem",
	"pond5",
	"thinkstockphotos", // Getty subsidiary
	"canstockphoto",
	"masterfile",
	"superstock",
	"agefotostock",
	"colourbox",
	"photodune", // Envato marketplace
	"vectorstock",
	"freepik",
}

// StockURLPatterns are URL path segments that indicate stock photo pages.
var StockURLPatterns = []string{
	"/stock-photo",
	"/stock-image",
	"/editorial-image",
	"/premium-photo",
}

// StockSource returns the stock domain or path pattern rawURL matches, or "".
// extra is checked with the same substring semantics as StockDomains.
func StockSource(rawURL string, extra []string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Host)
	if host != "" {
		for _, list := range [][]string{StockDomains, extra} {
			for _, d := range list {
				if d != "" && strings.Contains(host, strings.ToLower(d)) {
					return host
				}
			}
		}
	}
	path := strings.ToLower(parsed.Path)
	for _, p := range StockURLPatterns {
		if strings.Contains(path, p) {
			return host + p
		}
	}
	return ""
}

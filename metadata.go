package moderate

import (
	"bytes"
	"strings"

	"github.com/bep/imagemeta"
)

// ImageMetadata holds the EXIF, IPTC and XMP rights fields of an image.
// A rights holder that is a stock agency is evidence the upload is not original.
type ImageMetadata struct {
	EXIFCopyright string
	EXIFArtist    string
	IPTCCopyright string
	IPTCCredit    string
	IPTCSource    string
	IPTCByline    string
	XMPMarked     bool // xmpRights:Marked, the image declares itself rights-managed
	DCRights      string
	DCCreator     string
}

// stockAgencyKeywords are substrings that identify a stock agency in a rights field.
var stockAgencyKeywords = []string{
	"shutterstock",
	"gettyimages",
	"getty images",
	"istockphoto",
	"istock",
	"alamy",
	"depositphotos",
	"dreamstime",
	"123rf",
	"adobestock",
	"adobe stock",
	"bigstockphoto",
	"stocksy",
	"pond5",
	"masterfile",
	"superstock",
	"agefotostock",
	"age fotostock",
	"colourbox",
	"vectorstock",
	"freepik",
	"canstockphoto",
}

func (m *ImageMetadata) rightsFields() []string {
	return []string{
		m.EXIFCopyright,
		m.EXIFArtist,
		m.IPTCCopyright,
		m.IPTCCredit,
		m.IPTCSource,
		m.IPTCByline,
		m.DCRights,
		m.DCCreator,
	}
}

// StockAgency returns the first rights field naming a stock agency, or "".
func (m *ImageMetadata) StockAgency() string {
	if m == nil {
		return ""
	}
	for _, f := range m.rightsFields() {
		if f == "" {
			continue
		}
		lower := strings.ToLower(f)
		for _, kw := range stockAgencyKeywords {
			if strings.Contains(lower, kw) {
				return f
			}
		}
	}
	return ""
}

// RightsHolder returns the first non-empty rights field, or "".
func (m *ImageMetadata) RightsHolder() string {
	if m == nil {
		return ""
	}
	for _, f := range m.rightsFields() {
		if f != "" {
			return f
		}
	}
	return ""
}

var wantedTags = map[imagemeta.Source]map[string]bool{
	imagemeta.IPTC: {
		"CopyrightNotice": true,
		"Credit":          true,
		"Byline":          true,
		"Source":          true,
	},
	imagemeta.EXIF: {
		"Copyright": true,
		"Artist":    true,
	},
	imagemeta.XMP: {
		"Marked":  true,
		"Rights":  true,
		"Creator": true,
	},
}

// ExtractImageMetadata parses rights metadata from raw image bytes.
// Returns nil when nothing relevant is present or the data cannot be parsed.
func ExtractImageMetadata(data []byte) *ImageMetadata {
	if len(data) == 0 {
		return nil
	}

	meta := &ImageMetadata{}
	found := false

	_, err := imagemeta.Decode(imagemeta.Options{
		R:       bytes.NewReader(data),
		Sources: imagemeta.EXIF | imagemeta.IPTC | imagemeta.XMP,
		ShouldHandleTag: func(ti imagemeta.TagInfo) bool {
			if tags, ok := wantedTags[ti.Source]; ok {
				return tags[ti.Tag]
			}
			return false
		},
		HandleTag: func(ti imagemeta.TagInfo) error {
			if applyTag(meta, ti) {
				found = true
			}
			return nil
		},
	})

	if err != nil || !found {
		return nil
	}
	return meta
}

// applyTag stores one tag value and reports whether it set anything.
func applyTag(meta *ImageMetadata, ti imagemeta.TagInfo) bool {
	if ti.Source == imagemeta.XMP && ti.Tag == "Marked" {
		b, ok := ti.Value.(bool)
		if ok {
			meta.XMPMarked = b
		}
		return ok
	}

	s := tagValueString(ti.Value)
	if s == "" {
		return false
	}

	var dst *string
	switch ti.Source {
	case imagemeta.IPTC:
		switch ti.Tag {
		case "CopyrightNotice":
			dst = &meta.IPTCCopyright
		case "Credit":
			dst = &meta.IPTCCredit
		case "Byline":
			dst = &meta.IPTCByline
		case "Source":
			dst = &meta.IPTCSource
		}
	case imagemeta.EXIF:
		switch ti.Tag {
		case "Copyright":
			dst = &meta.EXIFCopyright
		case "Artist":
			dst = &meta.EXIFArtist
		}
	case imagemeta.XMP:
		switch ti.Tag {
		case "Rights":
			dst = &meta.DCRights
		case "Creator":
			dst = &meta.DCCreator
		}
	}
	if dst == nil {
		return false
	}
	*dst = s
	return true
}

// tagValueString extracts a string from a tag value.
// XMP values may be string or []string (from altList/seqList).
func tagValueString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case []string:
		if len(val) > 0 {
			return strings.TrimSpace(val[0])
		}
	case []any:
		if len(val) > 0 {
			if s, ok := val[0].(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

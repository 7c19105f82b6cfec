package psi

// Descriptor tag values relevant to elementary-stream type selection.
const (
	DescRegistration byte = 0x05
	DescTeletext     byte = 0x56
	DescSubtitling   byte = 0x59
	DescAC3          byte = 0x6A
	DescEAC3         byte = 0x7A
)

// Descriptor is one raw PSI descriptor: tag + payload.
type Descriptor struct {
	Tag  byte
	Data []byte
}

// ParseDescriptors walks a concatenated descriptor-loop byte range.
func ParseDescriptors(data []byte) []Descriptor {
	var out []Descriptor
	for i := 0; i+2 <= len(data); {
		tag := data[i]
		length := int(data[i+1])
		start := i + 2
		end := start + length
		if end > len(data) {
			break
		}
		out = append(out, Descriptor{Tag: tag, Data: append([]byte(nil), data[start:end]...)})
		i = end
	}
	return out
}

// IsAC3 reports whether d is a DVB AC-3 audio descriptor.
func (d Descriptor) IsAC3() bool { return d.Tag == DescAC3 }

// IsEAC3 reports whether d is a DVB Enhanced AC-3 audio descriptor.
func (d Descriptor) IsEAC3() bool { return d.Tag == DescEAC3 }

// IsTeletext reports whether d is a DVB teletext descriptor.
func (d Descriptor) IsTeletext() bool { return d.Tag == DescTeletext }

// IsSubtitling reports whether d is a DVB subtitling descriptor.
func (d Descriptor) IsSubtitling() bool { return d.Tag == DescSubtitling }

// FormatIdentifier returns the 4-byte registration format_identifier
// carried by a registration descriptor (e.g. "HDMV", "AC-3"), or "" if
// d is not a registration descriptor or is too short.
func (d Descriptor) FormatIdentifier() string {
	if d.Tag != DescRegistration || len(d.Data) < 4 {
		return ""
	}
	return string(d.Data[:4])
}

// IsHDMV reports whether d is a registration descriptor naming the
// HDMV (Blu-ray) private data format.
func (d Descriptor) IsHDMV() bool { return d.FormatIdentifier() == "HDMV" }

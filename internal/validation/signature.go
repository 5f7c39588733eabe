package validation

import "bytes"

// headerLength 是签名校验最多读取的字节数。
const headerLength = 16

type magic struct {
	offset int
	bytes  []byte
}

var (
	sigZip = [][]magic{{{0, []byte("PK\x03\x04")}}}
	sigOLE = [][]magic{{{0, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}}}}
)

// signatures 中每个类型对应一组候选签名，命中任意一个即可；候选签名内的各段必须全部匹配。
var signatures = map[string][][]magic{
	"application/pdf": {{{0, []byte("%PDF-")}}},
	"image/png":       {{{0, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}}}},
	"image/jpeg":      {{{0, []byte{0xFF, 0xD8, 0xFF}}}},
	"image/gif":       {{{0, []byte("GIF87a")}}, {{0, []byte("GIF89a")}}},
	"image/webp":      {{{0, []byte("RIFF")}, {8, []byte("WEBP")}}},
	"application/rtf": {{{0, []byte(`{\rtf`)}}},

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   sigZip,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         sigZip,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": sigZip,
	"application/vnd.oasis.opendocument.text":                                   sigZip,

	"application/msword":            sigOLE,
	"application/vnd.ms-excel":      sigOLE,
	"application/vnd.ms-powerpoint": sigOLE,
}

// requiresSignature 判断该类型是否需要做魔数校验，文本类与未登记签名的类型豁免。
func requiresSignature(contentType string) bool {
	if isTextual(contentType) {
		return false
	}
	_, ok := signatures[contentType]
	return ok
}

func matchesSignature(contentType string, head []byte) bool {
	candidates, ok := signatures[contentType]
	if !ok {
		return true
	}
	for _, parts := range candidates {
		if matchAll(parts, head) {
			return true
		}
	}
	return false
}

func matchAll(parts []magic, head []byte) bool {
	for _, p := range parts {
		end := p.offset + len(p.bytes)
		if end > len(head) || !bytes.Equal(head[p.offset:end], p.bytes) {
			return false
		}
	}
	return true
}

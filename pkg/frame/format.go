package frame

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// Kind вид медиа формата
type Kind int

const (
	KindAudio Kind = iota + 1
	KindVideo
	KindText
)

// String возвращает строковое представление вида медиа
func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Format медиа формат канала. Описание кодека берется из SDP.
type Format struct {
	Kind  Kind
	Codec sdp.Codec
}

// Предопределенные форматы
var (
	FormatPCMU = Format{Kind: KindAudio, Codec: sdp.Codec{PayloadType: 0, Name: "PCMU", ClockRate: 8000}}
	FormatPCMA = Format{Kind: KindAudio, Codec: sdp.Codec{PayloadType: 8, Name: "PCMA", ClockRate: 8000}}
	FormatG722 = Format{Kind: KindAudio, Codec: sdp.Codec{PayloadType: 9, Name: "G722", ClockRate: 8000}}
	FormatOpus = Format{Kind: KindAudio, Codec: sdp.Codec{PayloadType: 111, Name: "opus", ClockRate: 48000, EncodingParameters: "2"}}
	FormatH264 = Format{Kind: KindVideo, Codec: sdp.Codec{PayloadType: 96, Name: "H264", ClockRate: 90000}}
	FormatVP8  = Format{Kind: KindVideo, Codec: sdp.Codec{PayloadType: 97, Name: "VP8", ClockRate: 90000}}
)

// статические payload types, для которых rtpmap не обязателен
var staticFormats = map[uint8]Format{
	0: FormatPCMU,
	8: FormatPCMA,
	9: FormatG722,
}

// Name возвращает имя кодека
func (f Format) Name() string { return f.Codec.Name }

// ClockRate возвращает частоту дискретизации кодека
func (f Format) ClockRate() uint32 { return f.Codec.ClockRate }

// IsZero возвращает true для незаданного формата
func (f Format) IsZero() bool { return f.Codec.Name == "" }

// Equal сравнивает форматы по виду, имени и частоте (payload type не учитывается)
func (f Format) Equal(o Format) bool {
	return f.Kind == o.Kind &&
		strings.EqualFold(f.Codec.Name, o.Codec.Name) &&
		f.Codec.ClockRate == o.Codec.ClockRate
}

func (f Format) String() string {
	if f.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s/%d", f.Codec.Name, f.Codec.ClockRate)
}

// HasKind проверяет, есть ли в списке формат указанного вида
func HasKind(formats []Format, kind Kind) bool {
	for _, f := range formats {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

// FirstOfKind возвращает первый формат указанного вида
func FirstOfKind(formats []Format, kind Kind) (Format, bool) {
	for _, f := range formats {
		if f.Kind == kind {
			return f, true
		}
	}
	return Format{}, false
}

// BestCommon возвращает первый формат из a, который поддерживается b
func BestCommon(a, b []Format, kind Kind) (Format, bool) {
	for _, fa := range a {
		if fa.Kind != kind {
			continue
		}
		for _, fb := range b {
			if fa.Equal(fb) {
				return fa, true
			}
		}
	}
	return Format{}, false
}

// FormatsFromSDP извлекает форматы из SDP описания в порядке предпочтения.
// telephone-event пропускается: DTMF передается отдельными кадрами.
func FormatsFromSDP(body []byte) ([]Format, error) {
	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("ошибка разбора SDP: %w", err)
	}
	return FormatsFromDescription(desc)
}

// FormatsFromDescription извлекает форматы из разобранного SDP
func FormatsFromDescription(desc *sdp.SessionDescription) ([]Format, error) {
	if desc == nil {
		return nil, fmt.Errorf("SDP описание не может быть nil")
	}

	var formats []Format
	for _, md := range desc.MediaDescriptions {
		kind := kindFromMedia(md.MediaName.Media)
		if kind == 0 {
			continue
		}
		for _, f := range md.MediaName.Formats {
			pt, err := strconv.ParseUint(f, 10, 8)
			if err != nil {
				continue
			}
			codec, err := desc.GetCodecForPayloadType(uint8(pt))
			if err != nil {
				static, ok := staticFormats[uint8(pt)]
				if !ok {
					continue
				}
				codec = static.Codec
			}
			if strings.EqualFold(codec.Name, "telephone-event") {
				continue
			}
			formats = append(formats, Format{Kind: kind, Codec: codec})
		}
	}

	if len(formats) == 0 {
		return nil, fmt.Errorf("в SDP нет поддерживаемых форматов")
	}
	return formats, nil
}

func kindFromMedia(media string) Kind {
	switch media {
	case "audio":
		return KindAudio
	case "video":
		return KindVideo
	case "text":
		return KindText
	default:
		return 0
	}
}

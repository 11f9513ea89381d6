package protocol

type MessageType uint8

const (
	MessageTypeDownload MessageType = 1
	MessageTypeUpload   MessageType = 2
	MessageTypeResult   MessageType = 3
	MessageTypeError    MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeDownload:
		return "DOWNLOAD"
	case MessageTypeUpload:
		return "UPLOAD"
	case MessageTypeResult:
		return "RESULT"
	case MessageTypeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

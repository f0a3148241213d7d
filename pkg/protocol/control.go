package protocol

// Ping is the keep-alive payload. Either side may send it; receiving any
// frame resets the peer's server-timeout clock.
type Ping struct {
	Timestamp uint64 // Unix milliseconds
}

// EncodePing encodes a Ping to bytes.
func EncodePing(p *Ping) []byte {
	e := NewEncoderWithCap(8)
	e.WriteUint64(p.Timestamp)
	return e.Bytes()
}

// DecodePing decodes a Ping from bytes. An empty payload is a ping with a
// zero timestamp.
func DecodePing(data []byte) (*Ping, error) {
	if len(data) == 0 {
		return &Ping{}, nil
	}
	ts, err := NewDecoder(data).ReadUint64()
	if err != nil {
		return nil, err
	}
	return &Ping{Timestamp: ts}, nil
}

// CloseMessage is sent before either side closes the connection.
type CloseMessage struct {
	Reason         string // Empty for a normal close
	AllowReconnect bool
}

// Error implements the error interface so a server close with a reason can
// be surfaced as the connection's closing error.
func (cm *CloseMessage) Error() string {
	if cm.Reason == "" {
		return "protocol: connection closed by peer"
	}
	return "protocol: connection closed by peer: " + cm.Reason
}

// EncodeClose encodes a CloseMessage to bytes.
func EncodeClose(cm *CloseMessage) []byte {
	e := NewEncoder()
	e.WriteString(cm.Reason)
	e.WriteBool(cm.AllowReconnect)
	return e.Bytes()
}

// DecodeClose decodes a CloseMessage from bytes.
func DecodeClose(data []byte) (*CloseMessage, error) {
	d := NewDecoder(data)
	msg, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	allow, err := d.ReadBool()
	if err != nil {
		return nil, err
	}
	return &CloseMessage{Reason: msg, AllowReconnect: allow}, nil
}

package protocol

// ProtocolName is the binary hub protocol negotiated in the handshake.
const ProtocolName = "blazorpack"

// ProtocolVersion is the protocol version sent in the handshake.
const ProtocolVersion uint8 = 1

// HandshakeRequest is the first frame a client sends after the WebSocket
// is established.
type HandshakeRequest struct {
	Protocol string
	Version  uint8
}

// HandshakeResponse is the server's answer. An empty Error means the
// protocol was accepted.
type HandshakeResponse struct {
	Error string
}

// HandshakeError is returned by the channel when the server refused the
// handshake.
type HandshakeError struct {
	Reason string
}

func (e *HandshakeError) Error() string {
	return "protocol: handshake rejected: " + e.Reason
}

// EncodeHandshakeRequest encodes a HandshakeRequest to bytes.
func EncodeHandshakeRequest(hr *HandshakeRequest) []byte {
	e := NewEncoder()
	e.WriteString(hr.Protocol)
	e.WriteByte(hr.Version)
	return e.Bytes()
}

// DecodeHandshakeRequest decodes a HandshakeRequest from bytes.
func DecodeHandshakeRequest(data []byte) (*HandshakeRequest, error) {
	d := NewDecoder(data)
	name, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	version, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	return &HandshakeRequest{Protocol: name, Version: version}, nil
}

// EncodeHandshakeResponse encodes a HandshakeResponse to bytes.
func EncodeHandshakeResponse(hr *HandshakeResponse) []byte {
	e := NewEncoder()
	e.WriteString(hr.Error)
	return e.Bytes()
}

// DecodeHandshakeResponse decodes a HandshakeResponse from bytes.
func DecodeHandshakeResponse(data []byte) (*HandshakeResponse, error) {
	d := NewDecoder(data)
	msg, err := d.ReadString()
	if err != nil {
		return nil, err
	}
	return &HandshakeResponse{Error: msg}, nil
}

// NewHandshakeRequest returns a request for the default protocol.
func NewHandshakeRequest() *HandshakeRequest {
	return &HandshakeRequest{Protocol: ProtocolName, Version: ProtocolVersion}
}

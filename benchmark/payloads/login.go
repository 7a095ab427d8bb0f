// Package payloads defines a handful of benchmark-only payload types built
// on tempest's Writer/Reader codec, standing in for the generated protobuf
// messages these benchmarks compare against.
package payloads

import "github.com/LyrinoxTechnologies/tempest"

type LoginRequest struct {
	Username string
	Password string
	ClientID string
}

func (l *LoginRequest) Marshal() ([]byte, error) {
	w := tempest.NewWriter()
	w.WriteString(l.Username)
	w.WriteString(l.Password)
	w.WriteString(l.ClientID)
	out := make([]byte, w.Len())
	copy(out, w.Bytes())
	return out, nil
}

func (l *LoginRequest) Unmarshal(data []byte) error {
	r := tempest.NewReader(data)
	var err error
	if l.Username, err = r.ReadString(); err != nil {
		return err
	}
	if l.Password, err = r.ReadString(); err != nil {
		return err
	}
	l.ClientID, err = r.ReadString()
	return err
}

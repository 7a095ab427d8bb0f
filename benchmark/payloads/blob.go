package payloads

import "github.com/LyrinoxTechnologies/tempest"

type Blob struct {
	Data []byte
}

func (b *Blob) Marshal() ([]byte, error) {
	w := tempest.NewWriterSize(len(b.Data) + 4)
	w.WriteBytes(b.Data)
	out := make([]byte, w.Len())
	copy(out, w.Bytes())
	return out, nil
}

func (b *Blob) Unmarshal(data []byte) error {
	r := tempest.NewReader(data)
	var err error
	b.Data, err = r.ReadBytes()
	return err
}

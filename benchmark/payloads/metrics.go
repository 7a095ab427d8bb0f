package payloads

import "github.com/LyrinoxTechnologies/tempest"

type Metrics struct {
	A, B, C, D, E uint64
}

func (m *Metrics) Marshal() ([]byte, error) {
	w := tempest.NewWriterSize(40)
	w.WriteUint64(m.A)
	w.WriteUint64(m.B)
	w.WriteUint64(m.C)
	w.WriteUint64(m.D)
	w.WriteUint64(m.E)
	out := make([]byte, w.Len())
	copy(out, w.Bytes())
	return out, nil
}

func (m *Metrics) Unmarshal(data []byte) error {
	r := tempest.NewReader(data)
	var err error
	if m.A, err = r.ReadUint64(); err != nil {
		return err
	}
	if m.B, err = r.ReadUint64(); err != nil {
		return err
	}
	if m.C, err = r.ReadUint64(); err != nil {
		return err
	}
	if m.D, err = r.ReadUint64(); err != nil {
		return err
	}
	m.E, err = r.ReadUint64()
	return err
}

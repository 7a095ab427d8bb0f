package payloads

import "github.com/LyrinoxTechnologies/tempest"

type BulkData struct {
	Values []uint32
}

func (b *BulkData) Marshal() ([]byte, error) {
	w := tempest.NewWriterSize(4 + 4*len(b.Values))
	w.WriteInt32(int32(len(b.Values)))
	for _, v := range b.Values {
		w.WriteUint32(v)
	}
	out := make([]byte, w.Len())
	copy(out, w.Bytes())
	return out, nil
}

func (b *BulkData) Unmarshal(data []byte) error {
	r := tempest.NewReader(data)
	count, err := r.ReadInt32()
	if err != nil {
		return err
	}
	if count < 0 {
		return tempest.ErrInvalidMessage
	}
	b.Values = make([]uint32, count)
	for i := range b.Values {
		v, err := r.ReadUint32()
		if err != nil {
			return err
		}
		b.Values[i] = v
	}
	return nil
}

package decproto

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// The JSON projection uses the proto field names. Transcription gets that
// from its struct tags; Logits needs custom methods because encoding/json
// cannot represent NaN or infinite floats, which a score tensor may carry.
// Those render as the strings "NaN", "Infinity" and "-Infinity", the same
// way protojson prints them.

type logitsJSON struct {
	Shape []int64       `json:"shape,omitempty"`
	Data  []jsonFloat32 `json:"data,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m Logits) MarshalJSON() ([]byte, error) {
	out := logitsJSON{Shape: m.Shape}
	if len(m.Data) > 0 {
		out.Data = make([]jsonFloat32, len(m.Data))
		for i, v := range m.Data {
			out.Data[i] = jsonFloat32(v)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Logits) UnmarshalJSON(b []byte) error {
	var in logitsJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	m.Shape = in.Shape
	m.Data = nil
	if len(in.Data) > 0 {
		m.Data = make([]float32, len(in.Data))
		for i, v := range in.Data {
			m.Data[i] = float32(v)
		}
	}
	return nil
}

type jsonFloat32 float32

func (f jsonFloat32) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Infinity"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 32), nil
}

func (f *jsonFloat32) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		switch s {
		case "NaN":
			*f = jsonFloat32(math.NaN())
		case "Infinity":
			*f = jsonFloat32(math.Inf(1))
		case "-Infinity":
			*f = jsonFloat32(math.Inf(-1))
		default:
			v, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return fmt.Errorf("invalid float value %q", s)
			}
			*f = jsonFloat32(v)
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = jsonFloat32(v)
	return nil
}

package capability

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// WriteJSON writes j as a JSON object. Set bitmap slots are listed as indices.
func WriteJSON(w *jwriter.Writer, j *JobInfo) {
	obj := w.Object()
	defer obj.End()

	c := &j.Capability
	obj.Name("program_id").Int(int(j.ProgramID))
	obj.Name("type").String(c.Type.String())
	obj.Name("type_flags").Int(int(c.Type))
	obj.Name("elan_type").Int(int(c.ElanType))
	obj.Name("version").String(fmt.Sprintf("%#08x", c.Version))

	key := obj.Name("user_key").Array()
	for _, k := range c.UserKey {
		key.String(fmt.Sprintf("%08x", k))
	}
	key.End()

	obj.Name("context_low").Int(int(c.LowContext))
	obj.Name("context_high").Int(int(c.HighContext))
	if c.MyContext != MyContextUnset {
		obj.Name("my_context").Int(int(c.MyContext))
	}
	obj.Name("node_low").Int(int(c.LowNode))
	obj.Name("node_high").Int(int(c.HighNode))
	obj.Name("entries").Int(int(c.Entries))
	obj.Name("rail_mask").Int(int(c.RailMask))

	slots := obj.Name("slots").Array()
	if c.Bitmap != nil {
		c.Bitmap.Each(func(i int) bool {
			slots.Int(i)
			return true
		})
	}
	slots.End()
}

// MarshalJSON renders j with WriteJSON.
func (j *JobInfo) MarshalJSON() ([]byte, error) {
	w := jwriter.NewWriter()
	WriteJSON(&w, j)
	if err := w.Error(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

package nodedir

import (
	"fmt"
)

// Table is a loaded node directory. It is immutable once built.
type Table struct {
	ids   map[string]uint32
	names map[uint32]map[AdapterType]string
	maxID uint32
}

func newTable() *Table {
	return &Table{
		ids:   make(map[string]uint32),
		names: make(map[uint32]map[AdapterType]string),
	}
}

// NewTable builds a table from host to id pairs, all treated as eip names.
func NewTable(hosts map[string]uint32) (*Table, error) {
	t := newTable()
	for h, id := range hosts {
		if err := t.add(AdapterEIP, h, id); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) add(typ AdapterType, host string, id uint32) error {
	if prev, ok := t.ids[host]; ok && prev != id {
		return fmt.Errorf("host %s mapped to both %d and %d", host, prev, id)
	}
	byType := t.names[id]
	if byType == nil {
		byType = make(map[AdapterType]string)
		t.names[id] = byType
	}
	if prev, ok := byType[typ]; ok && prev != host {
		return fmt.Errorf("id %d has two %s names: %s and %s", id, typ, prev, host)
	}
	byType[typ] = host
	t.ids[host] = id
	if id > t.maxID {
		t.maxID = id
	}
	return nil
}

func (t *Table) Len() int {
	return len(t.names)
}

func (t *Table) MaxID() (uint32, bool) {
	return t.maxID, len(t.names) > 0
}

// ID looks up any adapter name.
func (t *Table) ID(host string) (uint32, bool) {
	id, ok := t.ids[host]
	return id, ok
}

// Host returns the name of id for adapter type typ.
func (t *Table) Host(id uint32, typ AdapterType) (string, bool) {
	h, ok := t.names[id][typ]
	return h, ok
}

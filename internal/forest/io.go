package forest

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// Save writes the forest as JSON.
func Save(w io.Writer, f *Forest) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(f); err != nil {
		return eris.Wrap(err, "forest: encode")
	}
	return nil
}

// Load reads a forest written by Save and checks that every node reference
// is in range.
func Load(r io.Reader) (*Forest, error) {
	var f Forest
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, eris.Wrap(err, "forest: decode")
	}
	if len(f.Trees) == 0 || len(f.Classes) < 2 {
		return nil, eris.New("forest: model has no trees or classes")
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return nil, eris.Errorf("forest: tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.Leaf {
				if n.Class < 0 || n.Class >= len(f.Classes) {
					return nil, eris.Errorf("forest: tree %d node %d has class %d", ti, ni, n.Class)
				}
				continue
			}
			if n.Feature < 0 || n.Feature >= len(f.Features) ||
				n.Left <= ni || n.Left >= len(t.Nodes) || n.Right <= ni || n.Right >= len(t.Nodes) {
				return nil, eris.Errorf("forest: tree %d node %d is malformed", ti, ni)
			}
		}
	}
	return &f, nil
}

package spec

import (
	colors "gopkg.in/go-playground/colors.v1"
)

// segmentationHints verifies the display hints a segmentation member may
// carry: a colour map and a name map, both keyed by segment value. Colour
// values must be in hex or rgb()/rgba() form and are rewritten as hex so
// host applications get one representation.
func (n *normalizer) segmentationHints(member *Object, path string) error {
	if raw, ok := member.Get("colours"); ok {
		mapping, ok := raw.(*Object)
		if !ok {
			return malformedf("improper type for %s/colours", path)
		}
		for _, key := range mapping.Keys() {
			v, _ := mapping.Get(key)
			s, ok := v.(string)
			if !ok {
				return malformedf("improper type for %s/colours/%s", path, key)
			}
			c, err := colors.Parse(s)
			if err != nil {
				return malformedf("invalid colour %q for %s/colours/%s", s, path, key)
			}
			mapping.Set(key, c.ToHEX().String())
		}
	} else {
		n.warnf("missing optional field %s/colours", path)
	}

	if raw, ok := member.Get("names"); ok {
		mapping, ok := raw.(*Object)
		if !ok {
			return malformedf("improper type for %s/names", path)
		}
		for _, key := range mapping.Keys() {
			if _, ok := mapping.GetString(key); !ok {
				return malformedf("improper type for %s/names/%s", path, key)
			}
		}
	} else {
		n.warnf("missing optional field %s/names", path)
	}
	return nil
}

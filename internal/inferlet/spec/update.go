package spec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"inferlet/pkg/errors"
)

// CurrentVersion is the schema version the rest of the system works
// against. Older documents are migrated forward one version at a time;
// a document without a json_version field is treated as a legacy
// DeepInfer description.
const CurrentVersion = "1.1"

// migrations maps a schema version to the function that lifts a document
// to the next version.
var migrations = map[string]func(*Object) (*Object, error){
	"deepinfer": migrateDeepInfer,
	"1.0":       migrate10,
}

// Update migrates a document to CurrentVersion. It returns the migrated
// document and whether any migration ran. Documents newer than
// CurrentVersion are rejected.
func Update(doc *Object) (*Object, bool, error) {
	updated := false
	for {
		version := "deepinfer"
		if raw, ok := doc.Get("json_version"); ok {
			s, sok := raw.(string)
			if !sok {
				return doc, updated, fmt.Errorf("%w: json_version must be a string", errors.ErrModelMalformed)
			}
			version = s
		}
		if version == CurrentVersion {
			return doc, updated, nil
		}
		step, ok := migrations[version]
		if !ok {
			if version > CurrentVersion {
				return doc, updated, fmt.Errorf("%w: model version %s is newer than %s", errors.ErrVersionUnsupported, version, CurrentVersion)
			}
			return doc, updated, fmt.Errorf("%w: no update path from version %s", errors.ErrVersionUnsupported, version)
		}
		next, err := step(doc)
		if err != nil {
			return doc, updated, err
		}
		doc = next
		updated = true
	}
}

// migrate10 lifts a v1.0 document to v1.1: the website field was added
// and brief_description folded into description.
func migrate10(doc *Object) (*Object, error) {
	doc.Set("json_version", "1.1")
	if !doc.Has("website") {
		doc.Set("website", "")
	}
	doc.Delete("brief_description")
	return doc, nil
}

// deepinferIntRanges maps the C integer type names used by DeepInfer
// descriptions to min/max bounds.
var deepinferIntRanges = map[string][2]int64{
	"uint8_t":      {0, 255},
	"int8_t":       {-128, 127},
	"uint16_t":     {0, 65535},
	"int16_t":      {-32768, 32767},
	"uint32_t":     {0, 2147483647},
	"uint64_t":     {0, 2147483647},
	"unsigned int": {0, 2147483647},
	"int32_t":      {-2147483648, 2147483647},
	"int64_t":      {-2147483648, 2147483647},
	"int":          {-2147483648, 2147483647},
}

// migrateDeepInfer rebuilds a legacy DeepInfer description as a v1.0
// document. DeepInfer kept everything in a flat members list; this sorts
// the members into inputs, outputs and params and fills the metadata
// fields the old format did not have.
func migrateDeepInfer(doc *Object) (*Object, error) {
	name, ok := doc.GetString("name")
	if !ok {
		return nil, fmt.Errorf("%w: deepinfer model has no name", errors.ErrModelMalformed)
	}
	docker, ok := doc.GetObject("docker")
	if !ok {
		return nil, fmt.Errorf("%w: deepinfer model has no docker block", errors.ErrModelMalformed)
	}
	repo, ok := docker.GetString("dockerhub_repository")
	if !ok {
		return nil, fmt.Errorf("%w: deepinfer model has no docker repository", errors.ErrModelMalformed)
	}
	digest, ok := docker.GetString("digest")
	if !ok {
		return nil, fmt.Errorf("%w: deepinfer model has no docker digest", errors.ErrModelMalformed)
	}

	nm := NewObject()
	nm.Set("json_version", "1.0")
	nm.Set("type", "docker")
	nm.Set("name", name)
	for _, f := range []string{"organ", "task", "status", "modality", "version"} {
		nm.Set(f, stringOr(doc, f, ""))
	}
	nm.Set("description", stringOr(doc, "detaileddescription", stringOr(doc, "briefdescription", "")))
	nm.Set("brief_description", stringOr(doc, "briefdescription", ""))
	if v, ok := doc.Get("maintainers"); ok {
		nm.Set("maintainers", v)
	} else {
		nm.Set("maintainers", []interface{}{})
	}
	nm.Set("citation", stringOr(doc, "citation", ""))

	nd := NewObject()
	nd.Set("image_name", repo)
	nd.Set("image_tag", digest)
	nd.Set("data_path", stringOr(doc, "data_path", "/home/deepinfer/data"))
	nm.Set("docker", nd)

	inputs, params, outputs := NewObject(), NewObject(), NewObject()
	nm.Set("inputs", inputs)
	nm.Set("params", params)
	nm.Set("outputs", outputs)

	rawMembers, ok := doc.Get("members")
	if !ok {
		return nil, fmt.Errorf("%w: deepinfer model has no members", errors.ErrModelMalformed)
	}
	members, ok := rawMembers.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: deepinfer members must be a list", errors.ErrModelMalformed)
	}

	for _, raw := range members {
		member, ok := raw.(*Object)
		if !ok {
			return nil, fmt.Errorf("%w: deepinfer member must be an object", errors.ErrModelMalformed)
		}
		mname, ok := member.GetString("name")
		if !ok {
			return nil, fmt.Errorf("%w: deepinfer member has no name", errors.ErrModelMalformed)
		}
		iotype, _ := member.GetString("iotype")
		typ, _ := member.GetString("type")

		// DeepInfer sometimes declared flag-like members as inputs.
		if (typ == "bool" || typ == "int") && iotype != "parameter" {
			iotype = "parameter"
		}

		switch iotype {
		case "input", "output":
			target := inputs
			if iotype == "output" {
				target = outputs
			}
			entry := NewObject()
			entry.Set("name", beautifyCamel(mname))
			entry.Set("description", stringOr(member, "detaileddescriptionSet", ""))
			entry.Set("flag", "--"+mname)
			switch typ {
			case "volume":
				entry.Set("extension", ".nrrd")
				entry.Set("type", "volume")
				entry.Set("labelmap", stringOr(member, "voltype", "") == "LabelMap")
			case "point_vec":
				entry.Set("extension", ".fcvs")
				entry.Set("type", "point_vec")
			default:
				return nil, fmt.Errorf("%w: unknown deepinfer %s type %q", errors.ErrModelMalformed, iotype, typ)
			}
			target.Set(mname, entry)
		case "parameter":
			entry := NewObject()
			entry.Set("name", beautifyCamel(mname))
			entry.Set("description", stringOr(member, "detaileddescriptionSet", ""))
			entry.Set("flag", "--"+mname)
			if bounds, ok := deepinferIntRanges[typ]; ok {
				entry.Set("type", "int")
				entry.Set("default", numberOr(member, "default", "0"))
				entry.Set("min", intNumber(bounds[0]))
				entry.Set("max", intNumber(bounds[1]))
			} else {
				switch typ {
				case "bool":
					entry.Set("type", "bool")
					entry.Set("default", stringOr(member, "default", "false") == "true")
				case "float", "double":
					entry.Set("type", "float")
					entry.Set("default", numberOr(member, "default", "0"))
				case "enum":
					values, ok := member.Get("enum")
					if !ok {
						return nil, fmt.Errorf("%w: deepinfer enum %s has no values", errors.ErrModelMalformed, mname)
					}
					list, ok := values.([]interface{})
					if !ok || len(list) == 0 {
						return nil, fmt.Errorf("%w: deepinfer enum %s has no values", errors.ErrModelMalformed, mname)
					}
					enum := NewObject()
					for _, item := range list {
						s, ok := item.(string)
						if !ok {
							return nil, fmt.Errorf("%w: deepinfer enum %s has a non-string value", errors.ErrModelMalformed, mname)
						}
						enum.Set(s, s)
					}
					entry.Set("type", "enum")
					entry.Set("enum", enum)
					if def, ok := member.GetString("default"); ok {
						entry.Set("default", def)
					} else {
						entry.Set("default", list[0])
					}
				default:
					// DeepInfer carried member types this schema has no
					// counterpart for; they are dropped.
					continue
				}
			}
			params.Set(mname, entry)
		}
	}

	return nm, nil
}

// beautifyCamel turns a CamelCase member name into a friendly display
// name, matching how DeepInfer rendered its members.
func beautifyCamel(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || nextLower {
				b.WriteRune(' ')
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

func stringOr(o *Object, key, def string) string {
	if s, ok := o.GetString(key); ok {
		return s
	}
	return def
}

// numberOr fetches a numeric field, coercing numeric strings, falling
// back to def. DeepInfer descriptions carried defaults as strings.
func numberOr(o *Object, key string, def json.Number) json.Number {
	v, ok := o.Get(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case json.Number:
		return t
	case string:
		if _, err := strconv.ParseFloat(t, 64); err == nil {
			return json.Number(t)
		}
	}
	return def
}

func intNumber(v int64) json.Number {
	return json.Number(strconv.FormatInt(v, 10))
}

package spec

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inferlet/pkg/errors"
)

// fullModel is a complete v1.1 description exercising every member kind.
const fullModel = `{
	"json_version": "1.1",
	"id": "lung_seg",
	"type": "docker",
	"name": "Lung Segmentation",
	"organ": "lung",
	"task": "segmentation",
	"status": "stable",
	"modality": "CT",
	"version": "2.1",
	"description": "Segments lungs from CT volumes.",
	"website": "https://example.org/lung",
	"citation": "Doe et al.",
	"maintainers": ["Jo Doe"],
	"docker": {
		"image_name": "acme/lung-seg",
		"image_tag": "2.1",
		"data_path": "/data"
	},
	"inputs": {
		"input_vol": {
			"name": "Input Volume",
			"description": "CT scan",
			"flag": "-i",
			"extension": ".nrrd",
			"type": "volume",
			"labelmap": false,
			"pre": [
				{
					"name": "Resample",
					"description": "Resample to 1mm",
					"status": "suggested",
					"locked": false,
					"operation": "resample",
					"action": "isotropic",
					"targets": [1],
					"params": {"spacing": 1.0}
				}
			]
		}
	},
	"params": {
		"gpus": {
			"name": "GPU Count",
			"description": "GPUs to use",
			"flag": "--gpus=",
			"type": "int",
			"default": -1,
			"min": -1,
			"max": 8
		},
		"accuracy": {
			"name": "Accuracy",
			"description": "Blend factor",
			"flag": "--accuracy",
			"type": "float",
			"default": 0.5,
			"min": 0,
			"max": 1
		},
		"mode": {
			"name": "Mode",
			"description": "Inference mode",
			"flag": "--mode",
			"type": "enum",
			"enum": {"Fast": "FAST", "Accurate": "ACCURATE"},
			"default": "FAST"
		},
		"smooth": {
			"name": "Smooth",
			"description": "Smooth the result",
			"flag": "--smooth",
			"type": "bool",
			"default": true
		}
	},
	"outputs": {
		"output_seg": {
			"name": "Output Segmentation",
			"description": "Lung mask",
			"flag": "-o",
			"extension": ".seg.nrrd",
			"type": "segmentation",
			"master": "input_vol",
			"colours": {"1": "#ff0000"},
			"names": {"1": "Left Lung"},
			"post": [
				{
					"name": "Largest Island",
					"description": "Keep the largest island",
					"status": "required",
					"locked": true,
					"operation": "islands",
					"action": "keep_largest",
					"params": {}
				}
			]
		}
	},
	"order": ["gpus", "input_vol", "output_seg", "accuracy", "mode", "smooth"]
}`

func normalized(t *testing.T, src string) (*Object, []string) {
	t.Helper()
	doc := decodeDoc(t, src)
	warnings, err := Normalize(doc)
	require.NoError(t, err)
	return doc, warnings
}

func TestNormalize_FullModel(t *testing.T) {
	doc, _ := normalized(t, fullModel)

	v, _ := doc.GetString("json_version")
	assert.Equal(t, "1.1", v)

	// The declared enum mapping is kept as-is.
	params, _ := doc.GetObject("params")
	mode, _ := params.GetObject("mode")
	enum, ok := mode.GetObject("enum")
	require.True(t, ok)
	assert.Equal(t, []string{"Fast", "Accurate"}, enum.Keys())
}

func TestNormalize_FillsDefaults(t *testing.T) {
	src := `{
		"json_version": "1.1",
		"id": "minimal",
		"type": "docker",
		"name": "Minimal",
		"organ": "",
		"task": "",
		"status": "",
		"modality": "",
		"version": "1",
		"docker": {"image_name": "acme/minimal", "image_tag": "1", "data_path": "/data"},
		"inputs": {
			"vol": {"name": "Volume", "description": "", "flag": "-i", "extension": ".nrrd", "type": "volume"}
		},
		"outputs": {
			"seg": {"name": "Seg", "description": "", "flag": "-o", "extension": ".seg.nrrd", "type": "segmentation"}
		},
		"params": {
			"count": {"name": "Count", "description": "", "flag": "-c", "type": "int", "default": 1}
		}
	}`
	doc, warnings := normalized(t, src)

	// maintainers and order are filled or warned about.
	raw, ok := doc.Get("maintainers")
	require.True(t, ok)
	assert.Empty(t, raw)

	inputs, _ := doc.GetObject("inputs")
	vol, _ := inputs.GetObject("vol")
	labelmap, ok := vol.Get("labelmap")
	require.True(t, ok)
	assert.Equal(t, false, labelmap)
	pre, ok := vol.Get("pre")
	require.True(t, ok)
	assert.Empty(t, pre)

	outputs, _ := doc.GetObject("outputs")
	seg, _ := outputs.GetObject("seg")
	post, ok := seg.Get("post")
	require.True(t, ok)
	assert.Empty(t, post)

	params, _ := doc.GetObject("params")
	count, _ := params.GetObject("count")
	min, _ := count.Get("min")
	assert.Equal(t, json.Number("-2147483648"), min)
	max, _ := count.Get("max")
	assert.Equal(t, json.Number("2147483647"), max)

	joined := strings.Join(warnings, "\n")
	assert.Contains(t, joined, "missing optional field description")
	assert.Contains(t, joined, "missing optional field maintainers")
	assert.Contains(t, joined, "missing optional field order")
	assert.Contains(t, joined, "missing optional field inputs/vol/pre")
}

func TestNormalize_EnumListBecomesMapping(t *testing.T) {
	src := `{
		"json_version": "1.1",
		"id": "m",
		"type": "docker",
		"name": "M",
		"organ": "", "task": "", "status": "", "modality": "", "version": "1",
		"docker": {"image_name": "a/b", "image_tag": "1", "data_path": "/data"},
		"inputs": {"vol": {"name": "V", "description": "", "flag": "-i", "extension": ".nrrd", "type": "volume"}},
		"outputs": {"seg": {"name": "S", "description": "", "flag": "-o", "extension": ".nrrd", "type": "volume"}},
		"params": {
			"mode": {"name": "Mode", "description": "", "flag": "-m", "type": "enum", "enum": ["fast", "slow"], "default": "fast"}
		}
	}`
	doc, _ := normalized(t, src)

	params, _ := doc.GetObject("params")
	mode, _ := params.GetObject("mode")
	enum, ok := mode.GetObject("enum")
	require.True(t, ok, "enum list must become a mapping")
	assert.Equal(t, []string{"fast", "slow"}, enum.Keys())
	v, _ := enum.GetString("fast")
	assert.Equal(t, "fast", v)
}

func TestNormalize_ColoursBecomeHex(t *testing.T) {
	doc := decodeDoc(t, fullModel)
	outputs, _ := doc.GetObject("outputs")
	seg, _ := outputs.GetObject("output_seg")
	colours, _ := seg.GetObject("colours")
	colours.Set("2", "rgb(0,128,0)")

	_, err := Normalize(doc)
	require.NoError(t, err)

	v, _ := colours.GetString("2")
	assert.Equal(t, "#008000", v)
}

func TestNormalize_WrongVersion(t *testing.T) {
	doc := decodeDoc(t, `{"json_version":"1.0","id":"m"}`)

	_, err := Normalize(doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrVersionUnsupported)
}

func TestNormalize_Failures(t *testing.T) {
	// Each case mutates the full model into an invalid one.
	cases := []struct {
		name   string
		mutate func(doc *Object)
		msg    string
	}{
		{
			name:   "missing required field",
			mutate: func(doc *Object) { doc.Delete("task") },
			msg:    "missing required field task",
		},
		{
			name:   "improper type for metadata",
			mutate: func(doc *Object) { doc.Set("task", true) },
			msg:    "improper type for task",
		},
		{
			name:   "invalid model id",
			mutate: func(doc *Object) { doc.Set("id", "lung-seg") },
			msg:    "must be a valid identifier",
		},
		{
			name: "missing docker field",
			mutate: func(doc *Object) {
				docker, _ := doc.GetObject("docker")
				docker.Delete("data_path")
			},
			msg: "missing required field docker/data_path",
		},
		{
			name: "duplicate name across sections",
			mutate: func(doc *Object) {
				params, _ := doc.GetObject("params")
				inputs, _ := doc.GetObject("inputs")
				vol, _ := inputs.Get("input_vol")
				params.Set("input_vol", vol)
			},
			msg: "must be unique",
		},
		{
			name: "invalid member identifier",
			mutate: func(doc *Object) {
				inputs, _ := doc.GetObject("inputs")
				vol, _ := inputs.Get("input_vol")
				inputs.Delete("input_vol")
				inputs.Set("input-vol", vol)
				doc.Delete("order")
			},
			msg: "must be a valid identifier",
		},
		{
			name: "invalid io type",
			mutate: func(doc *Object) {
				inputs, _ := doc.GetObject("inputs")
				vol, _ := inputs.GetObject("input_vol")
				vol.Set("type", "mesh")
			},
			msg: `invalid inputs type "mesh"`,
		},
		{
			name: "invalid param type",
			mutate: func(doc *Object) {
				params, _ := doc.GetObject("params")
				gpus, _ := params.GetObject("gpus")
				gpus.Set("type", "volume")
			},
			msg: `invalid params type "volume"`,
		},
		{
			name: "int default out of range",
			mutate: func(doc *Object) {
				params, _ := doc.GetObject("params")
				gpus, _ := params.GetObject("gpus")
				gpus.Set("default", json.Number("9"))
			},
			msg: "outside",
		},
		{
			name: "float default out of range",
			mutate: func(doc *Object) {
				params, _ := doc.GetObject("params")
				accuracy, _ := params.GetObject("accuracy")
				accuracy.Set("default", json.Number("1.5"))
			},
			msg: "outside",
		},
		{
			name: "fractional int bound",
			mutate: func(doc *Object) {
				params, _ := doc.GetObject("params")
				gpus, _ := params.GetObject("gpus")
				gpus.Set("min", json.Number("0.5"))
			},
			msg: "improper type",
		},
		{
			name: "enum default must be a value",
			mutate: func(doc *Object) {
				params, _ := doc.GetObject("params")
				mode, _ := params.GetObject("mode")
				mode.Set("default", "Fast")
			},
			msg: "not one of the enum values",
		},
		{
			name: "missing step params",
			mutate: func(doc *Object) {
				inputs, _ := doc.GetObject("inputs")
				vol, _ := inputs.GetObject("input_vol")
				raw, _ := vol.Get("pre")
				step := raw.([]interface{})[0].(*Object)
				step.Delete("params")
			},
			msg: "missing required field inputs/input_vol/pre/0/params",
		},
		{
			name: "invalid step status",
			mutate: func(doc *Object) {
				inputs, _ := doc.GetObject("inputs")
				vol, _ := inputs.GetObject("input_vol")
				raw, _ := vol.Get("pre")
				step := raw.([]interface{})[0].(*Object)
				step.Set("status", "mandatory")
			},
			msg: `invalid status "mandatory"`,
		},
		{
			name: "unknown name in order",
			mutate: func(doc *Object) {
				doc.Set("order", []interface{}{"gpus", "ghost"})
			},
			msg: `unknown name "ghost"`,
		},
		{
			name: "invalid colour",
			mutate: func(doc *Object) {
				outputs, _ := doc.GetObject("outputs")
				seg, _ := outputs.GetObject("output_seg")
				colours, _ := seg.GetObject("colours")
				colours.Set("1", "not-a-colour")
			},
			msg: "invalid colour",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := decodeDoc(t, fullModel)
			tc.mutate(doc)

			_, err := Normalize(doc)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrModelMalformed)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestNormalize_StringParamAllowed(t *testing.T) {
	src := `{
		"json_version": "1.1",
		"id": "m",
		"type": "docker",
		"name": "M",
		"organ": "", "task": "", "status": "", "modality": "", "version": "1",
		"docker": {"image_name": "a/b", "image_tag": "1", "data_path": "/data"},
		"inputs": {"vol": {"name": "V", "description": "", "flag": "-i", "extension": ".nrrd", "type": "volume"}},
		"outputs": {"seg": {"name": "S", "description": "", "flag": "-o", "extension": ".nrrd", "type": "volume"}},
		"params": {
			"label": {"name": "Label", "description": "", "flag": "-l", "type": "string", "default": "lung"}
		}
	}`
	_, warnings := normalized(t, src)
	assert.NotEmpty(t, warnings)
}

func TestNormalize_WarnsOnExtraneousFields(t *testing.T) {
	doc := decodeDoc(t, fullModel)
	doc.Set("colour_scheme", "viridis")

	warnings, err := Normalize(doc)
	require.NoError(t, err)
	assert.Contains(t, strings.Join(warnings, "\n"), "extraneous field colour_scheme")
}

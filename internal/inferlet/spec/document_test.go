package spec

import (
	"encoding/json"
	"testing"
)

func TestObject_PreservesKeyOrder(t *testing.T) {
	src := `{"zebra":1,"alpha":2,"mike":{"inner_b":true,"inner_a":null}}`

	obj := NewObject()
	if err := json.Unmarshal([]byte(src), obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	keys := obj.Keys()
	want := []string{"zebra", "alpha", "mike"}
	if len(keys) != len(want) {
		t.Fatalf("len(Keys()) = %d, want %d", len(keys), len(want))
	}
	for i, k := range want {
		if keys[i] != k {
			t.Errorf("Keys()[%d] = %q, want %q", i, keys[i], k)
		}
	}

	out, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != src {
		t.Errorf("round trip = %s, want %s", out, src)
	}
}

func TestObject_NumbersKeepPrecision(t *testing.T) {
	src := `{"min":-2147483648,"max":2147483647,"ratio":0.5}`

	obj := NewObject()
	if err := json.Unmarshal([]byte(src), obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	raw, ok := obj.Get("max")
	if !ok {
		t.Fatal("max not found")
	}
	num, ok := raw.(json.Number)
	if !ok {
		t.Fatalf("max is %T, want json.Number", raw)
	}
	v, err := num.Int64()
	if err != nil {
		t.Fatalf("Int64: %v", err)
	}
	if v != 2147483647 {
		t.Errorf("max = %d, want 2147483647", v)
	}

	out, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != src {
		t.Errorf("round trip = %s, want %s", out, src)
	}
}

func TestObject_SetAndDelete(t *testing.T) {
	obj := NewObject()
	obj.Set("a", "1")
	obj.Set("b", "2")
	obj.Set("c", "3")

	// Overwriting keeps the original position.
	obj.Set("b", "2b")
	keys := obj.Keys()
	if keys[1] != "b" {
		t.Errorf("Keys()[1] = %q, want b", keys[1])
	}
	if v, _ := obj.GetString("b"); v != "2b" {
		t.Errorf("b = %q, want 2b", v)
	}

	obj.Delete("a")
	if obj.Has("a") {
		t.Error("a still present after Delete")
	}
	keys = obj.Keys()
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "c" {
		t.Errorf("Keys() = %v, want [b c]", keys)
	}

	// Deleting a missing key is a no-op.
	obj.Delete("missing")
	if obj.Len() != 2 {
		t.Errorf("Len() = %d, want 2", obj.Len())
	}
}

func TestObject_TypedGetters(t *testing.T) {
	src := `{"name":"lung-seg","docker":{"image_name":"acme/lung"},"count":3}`

	obj := NewObject()
	if err := json.Unmarshal([]byte(src), obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if s, ok := obj.GetString("name"); !ok || s != "lung-seg" {
		t.Errorf("GetString(name) = %q, %v", s, ok)
	}
	if _, ok := obj.GetString("count"); ok {
		t.Error("GetString(count) succeeded on a number")
	}
	docker, ok := obj.GetObject("docker")
	if !ok {
		t.Fatal("GetObject(docker) failed")
	}
	if s, _ := docker.GetString("image_name"); s != "acme/lung" {
		t.Errorf("image_name = %q, want acme/lung", s)
	}
	if _, ok := obj.GetObject("name"); ok {
		t.Error("GetObject(name) succeeded on a string")
	}
}

func TestObject_Arrays(t *testing.T) {
	src := `{"order":["a","b"],"steps":[{"name":"first"}],"empty":[]}`

	obj := NewObject()
	if err := json.Unmarshal([]byte(src), obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	raw, _ := obj.Get("order")
	list, ok := raw.([]interface{})
	if !ok {
		t.Fatalf("order is %T, want []interface{}", raw)
	}
	if len(list) != 2 || list[0] != "a" || list[1] != "b" {
		t.Errorf("order = %v, want [a b]", list)
	}

	raw, _ = obj.Get("steps")
	steps := raw.([]interface{})
	step, ok := steps[0].(*Object)
	if !ok {
		t.Fatalf("steps[0] is %T, want *Object", steps[0])
	}
	if s, _ := step.GetString("name"); s != "first" {
		t.Errorf("steps[0].name = %q, want first", s)
	}

	out, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != src {
		t.Errorf("round trip = %s, want %s", out, src)
	}
}

func TestObject_RejectsNonObject(t *testing.T) {
	for _, src := range []string{`[1,2]`, `"text"`, `42`} {
		obj := NewObject()
		if err := json.Unmarshal([]byte(src), obj); err == nil {
			t.Errorf("unmarshal %s succeeded, want error", src)
		}
	}
}

func TestObject_MarshalIndent(t *testing.T) {
	obj := NewObject()
	obj.Set("b", "first")
	obj.Set("a", "second")

	out, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := "{\n  \"b\": \"first\",\n  \"a\": \"second\"\n}"
	if string(out) != want {
		t.Errorf("MarshalIndent = %s, want %s", out, want)
	}
}

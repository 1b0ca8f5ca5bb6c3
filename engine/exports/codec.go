package exports

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/fixkme/plua/engine"
	"github.com/kaptinlin/jsonrepair"
	lua "github.com/yuin/gopher-lua"
)

var codecFuncs = []Func{
	{Name: "json_encode", Category: "json", Description: "Encode a Lua table to JSON string", Fn: jsonEncode},
	{Name: "json_encode_formated", Category: "json", Description: "Encode a Lua table to indented JSON string", Fn: jsonEncodeFormatted},
	{Name: "json_decode", Category: "json", Description: "Decode JSON string to Lua table; a true second argument repairs malformed input", Fn: jsonDecode},
	{Name: "base64_encode", Category: "utility", Description: "Base64 encode a string", Fn: base64Encode},
	{Name: "base64_decode", Category: "utility", Description: "Base64 decode a string", Fn: base64Decode},
}

// EncodeJSON marshals v without HTML escaping and without the trailing
// newline json.Encoder adds.
func EncodeJSON(v any, indent string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// DecodeJSON parses data. With repair set, a syntax error gets one retry
// on the repaired text.
func DecodeJSON(data string, repair bool) (any, error) {
	var v any
	err := json.Unmarshal([]byte(data), &v)
	if err == nil {
		return v, nil
	}
	var syntax *json.SyntaxError
	if !repair || !errors.As(err, &syntax) {
		return nil, err
	}
	fixed, rerr := jsonrepair.JSONRepair(data)
	if rerr != nil {
		return nil, err
	}
	if err = json.Unmarshal([]byte(fixed), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func encodeArg(L *lua.LState, indent string) int {
	s, err := EncodeJSON(engine.FromLua(L.Get(1)), indent)
	if err != nil {
		s, _ = EncodeJSON(map[string]any{"error": "JSON encoding failed: " + err.Error()}, "")
	}
	L.Push(lua.LString(s))
	return 1
}

func jsonEncode(L *lua.LState) int {
	return encodeArg(L, "")
}

func jsonEncodeFormatted(L *lua.LState) int {
	return encodeArg(L, "    ")
}

func jsonDecode(L *lua.LState) int {
	v, err := DecodeJSON(L.CheckString(1), L.OptBool(2, false))
	if err != nil {
		L.Push(engine.ToLua(L, map[string]any{
			"error": "JSON parsing failed: " + err.Error(),
			"valid": false,
		}))
		return 1
	}
	L.Push(engine.ToLua(L, v))
	return 1
}

func base64Encode(L *lua.LState) int {
	L.Push(lua.LString(base64.StdEncoding.EncodeToString([]byte(L.CheckString(1)))))
	return 1
}

func base64Decode(L *lua.LState) int {
	b, err := base64.StdEncoding.DecodeString(L.CheckString(1))
	if err != nil {
		L.RaiseError("base64_decode: %v", err)
		return 0
	}
	L.Push(lua.LString(b))
	return 1
}

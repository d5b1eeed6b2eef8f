// Package toolmediator implements the host-side callables exposed to
// sandboxed scripts: http.get, http.post, json.decode, json.encode.
// Every callable is designed to never panic into the interpreter —
// failures surface as string return values carrying a stable
// error-tag prefix, never as raised errors.
package toolmediator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BaSui01/scriptexec/sandbox/bag"
	"github.com/BaSui01/scriptexec/sandbox/marshal"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	lua "github.com/yuin/gopher-lua"
)

// Hooks lets a caller observe the tool calls made by one in-flight
// invocation without the mediator, which is shared across every
// invocation, knowing anything about who is listening. Attach one via
// WithHooks on the context passed to the interpreter before a call.
type Hooks struct {
	OnCall   func(tool string)
	OnResult func(tool, result string)
}

type hooksContextKey struct{}

// WithHooks returns a copy of ctx carrying h. Passing it to
// (*lua.LState).SetContext makes it reachable from every tool callback
// installed by Install via L.Context().
func WithHooks(ctx context.Context, h Hooks) context.Context {
	return context.WithValue(ctx, hooksContextKey{}, h)
}

func hooksFromContext(ctx context.Context) Hooks {
	if ctx == nil {
		return Hooks{}
	}
	if h, ok := ctx.Value(hooksContextKey{}).(Hooks); ok {
		return h
	}
	return Hooks{}
}

func (h Hooks) call(tool string) {
	if h.OnCall != nil {
		h.OnCall(tool)
	}
}

func (h Hooks) result(tool, result string) {
	if h.OnResult != nil {
		h.OnResult(tool, result)
	}
}

// Config mirrors config.ToolsConfig without importing the config
// package directly, keeping sandbox/* free of a dependency on the
// process-wide configuration loader.
type Config struct {
	AllowedHosts      []string
	EssentialJSONKeys []string
	HTTPTimeout       time.Duration
	MaxRetries        int
}

// Mediator holds the shared, process-wide resources tool callbacks use:
// the allowlist and the pooled HTTP client. Both are set at
// construction and never mutated afterward.
type Mediator struct {
	allowedHosts map[string]bool
	essentialKey map[string]bool
	client       *http.Client
	maxRetries   int
}

// New constructs a Mediator from Config. The HTTP client is shared
// across every invocation that installs this Mediator's callbacks.
func New(cfg Config) *Mediator {
	allowed := make(map[string]bool, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		allowed[strings.ToLower(h)] = true
	}
	essential := make(map[string]bool, len(cfg.EssentialJSONKeys))
	for _, k := range cfg.EssentialJSONKeys {
		essential[k] = true
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Mediator{
		allowedHosts: allowed,
		essentialKey: essential,
		client:       &http.Client{Timeout: timeout},
		maxRetries:   cfg.MaxRetries,
	}
}

// Install registers the http and json global tables on L, wiring each
// entry to this Mediator.
func (m *Mediator) Install(L *lua.LState) {
	httpTable := L.NewTable()
	L.SetField(httpTable, "get", L.NewFunction(m.luaHTTPGet))
	L.SetField(httpTable, "post", L.NewFunction(m.luaHTTPPost))
	L.SetGlobal("http", httpTable)

	jsonTable := L.NewTable()
	L.SetField(jsonTable, "decode", L.NewFunction(m.luaJSONDecode))
	L.SetField(jsonTable, "encode", L.NewFunction(m.luaJSONEncode))
	L.SetGlobal("json", jsonTable)
}

// --- URL policy ---

func (m *Mediator) checkURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("Invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("Invalid URL: scheme must be http or https")
	}
	if u.Host == "" {
		return nil, fmt.Errorf("Invalid URL: missing host")
	}
	host := strings.ToLower(u.Hostname())
	if strings.HasSuffix(host, ".local") || m.allowedHosts[host] {
		return u, nil
	}
	return nil, fmt.Errorf("Invalid URL: host %q is not allowlisted", host)
}

// --- http.get / http.post ---

func (m *Mediator) luaHTTPGet(L *lua.LState) int {
	arg := L.Get(1)
	if arg.Type() != lua.LTString && arg.Type() != lua.LTNumber {
		L.Push(lua.LString("Invalid URL: url must be a string"))
		return 1
	}
	rawURL := lua.LVAsString(arg)
	h := hooksFromContext(L.Context())
	h.call("http.get")
	res := m.get(rawURL)
	h.result("http.get", res)
	L.Push(lua.LString(res))
	return 1
}

func (m *Mediator) get(rawURL string) string {
	u, err := m.checkURL(rawURL)
	if err != nil {
		return err.Error()
	}
	return m.doRequest(http.MethodGet, u.String(), nil, nil)
}

func (m *Mediator) luaHTTPPost(L *lua.LState) int {
	arg := L.Get(1)
	if arg.Type() != lua.LTString && arg.Type() != lua.LTNumber {
		L.Push(lua.LString("Invalid URL: url must be a string"))
		return 1
	}
	rawURL := lua.LVAsString(arg)
	var headers map[string]string
	var body string
	if opts, ok := L.Get(2).(*lua.LTable); ok {
		if h, ok := opts.RawGetString("headers").(*lua.LTable); ok {
			headers = map[string]string{}
			v := marshal.FromInterp(h, marshal.NewVisited())
			if v.Kind == bag.Mapping {
				for k, val := range v.MapVal {
					if val.Kind == bag.String {
						headers[k] = val.StringVal
					}
				}
			}
		}
		if b, ok := opts.RawGetString("body").(lua.LString); ok {
			body = string(b)
		}
	}
	h := hooksFromContext(L.Context())
	h.call("http.post")
	res := m.post(rawURL, headers, body)
	h.result("http.post", res)
	L.Push(lua.LString(res))
	return 1
}

func (m *Mediator) post(rawURL string, headers map[string]string, body string) string {
	u, err := m.checkURL(rawURL)
	if err != nil {
		return err.Error()
	}
	var b []byte
	if body != "" {
		b = []byte(body)
	}
	return m.doRequest(http.MethodPost, u.String(), headers, b)
}

// doRequest retries up to maxRetries times on transport/read failure.
// body is held as a byte slice and re-wrapped in a fresh bytes.Reader
// on every attempt — http.Request.Body is consumed by the first Do, so
// reusing the same io.Reader across retries would send an empty body
// on attempt two onward.
func (m *Mediator) doRequest(method, url string, headers map[string]string, body []byte) string {
	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequest(method, url, r)
		if err != nil {
			return fmt.Sprintf("Request failed: %v", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := m.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 400 {
			return fmt.Sprintf("HTTP Error: status %d", resp.StatusCode)
		}
		return string(data)
	}
	return fmt.Sprintf("Request failed: %v", lastErr)
}

// --- json.decode / json.encode ---

func (m *Mediator) luaJSONDecode(L *lua.LState) int {
	arg := L.Get(1)
	if arg.Type() != lua.LTString && arg.Type() != lua.LTNumber {
		L.Push(lua.LString("JSON decode error: argument must be a string"))
		return 1
	}
	s := lua.LVAsString(arg)
	h := hooksFromContext(L.Context())
	h.call("json.decode")
	if !gjson.Valid(s) {
		h.result("json.decode", "error")
		L.Push(lua.LString("JSON decode error: invalid JSON"))
		return 1
	}
	simplified := m.simplify(gjson.Parse(s), 0)
	var raw any
	if err := json.Unmarshal([]byte(simplified), &raw); err != nil {
		h.result("json.decode", "error")
		L.Push(lua.LString(fmt.Sprintf("JSON decode error: %v", err)))
		return 1
	}
	h.result("json.decode", "ok")
	L.Push(marshal.ToInterp(bag.FromJSON(raw), L))
	return 1
}

func (m *Mediator) luaJSONEncode(L *lua.LState) int {
	h := hooksFromContext(L.Context())
	h.call("json.encode")
	v := marshal.FromInterp(L.Get(1), marshal.NewVisited())
	data, err := json.Marshal(bag.ToJSON(v))
	if err != nil {
		h.result("json.encode", "error")
		L.Push(lua.LString(fmt.Sprintf("JSON encode error: %v", err)))
		return 1
	}
	h.result("json.encode", "ok")
	L.Push(lua.LString(string(data)))
	return 1
}

// simplify implements the response-simplification policy as path-based
// JSON surgery over raw JSON text rather than a decoded map[string]any
// tree: primitives pass through untouched, nested objects are kept
// only if they carry at least one essential key, sequences longer than
// 5 are dropped. depth decides where the essential-key rule applies:
// the root object (depth 0) is always kept, every nested object
// (depth > 0) needs at least one essential key.
//
// Array elements are appended via sjson.SetRaw with a plain numeric
// index, which sjson's path parser never treats as a metacharacter.
// Object members are NOT built through sjson.SetRaw: its path syntax
// treats "." (and other characters) in the path as a hierarchy
// separator, so a real-world key like "com.example.key" would be
// rebuilt as nested objects instead of preserved as one flat key.
// Members are concatenated directly as JSON text instead, with the key
// re-quoted through encoding/json so it round-trips byte-for-byte.
func (m *Mediator) simplify(v gjson.Result, depth int) string {
	switch {
	case v.IsArray():
		arr := v.Array()
		if len(arr) > 5 {
			return "null"
		}
		out := "[]"
		idx := 0
		for _, elem := range arr {
			out, _ = sjson.SetRaw(out, fmt.Sprintf("%d", idx), m.simplify(elem, depth+1))
			idx++
		}
		return out
	case v.IsObject():
		if depth > 0 && !m.hasEssentialKey(v) {
			return "null"
		}
		var b strings.Builder
		b.WriteByte('{')
		first := true
		v.ForEach(func(key, val gjson.Result) bool {
			if !first {
				b.WriteByte(',')
			}
			first = false
			keyJSON, _ := json.Marshal(key.String())
			b.Write(keyJSON)
			b.WriteByte(':')
			b.WriteString(m.simplify(val, depth+1))
			return true
		})
		b.WriteByte('}')
		return b.String()
	default:
		// Null, Number, String, True, False all carry their own literal
		// form in .Raw; reuse it directly instead of reformatting.
		return v.Raw
	}
}

func (m *Mediator) hasEssentialKey(obj gjson.Result) bool {
	found := false
	obj.ForEach(func(key, _ gjson.Result) bool {
		if m.essentialKey[key.String()] {
			found = true
			return false
		}
		return true
	})
	return found
}

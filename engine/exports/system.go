package exports

import (
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fixkme/plua/engine"
	"github.com/joho/godotenv"
	lua "github.com/yuin/gopher-lua"
)

// SystemInfo is what get_config reports beyond the host environment.
type SystemInfo struct {
	Version string
	Debug   bool
	Runtime map[string]any
}

// Standard builds the registry of built-in exports.
func Standard(info SystemInfo) *Registry {
	r := NewRegistry()
	r.MustAdd(codecFuncs...)
	r.MustAdd(
		Func{Name: "millitime", Category: "time", Description: "Get current epoch time with milliseconds as float", Fn: millitime},
		Func{Name: "getcwd", Category: "file", Description: "Get the current working directory", Fn: getcwd},
		Func{Name: "listdir", Category: "file", Description: "List directory contents", Fn: listdir},
		Func{Name: "path_info", Category: "file", Description: "Get detailed information about a file or directory path", Fn: pathInfo},
		Func{Name: "getenv", Category: "system", Description: "Get an environment variable value", Fn: getenv},
		Func{Name: "getenv_dotenv", Category: "system", Description: "Get environment variable with .env file support", Fn: getenvDotenv},
		Func{Name: "getenv_with_dotenv", Category: "system", Description: "Alias for getenv_dotenv", Fn: getenvDotenv},
		Func{Name: "multiple_values_example", Category: "example", Description: "Example function demonstrating multiple return values", Fn: multipleValues},
		Func{Name: "get_config", Category: "system", Description: "Get system configuration and environment information", Fn: func(L *lua.LState) int {
			L.Push(engine.ToLua(L, SystemConfig(info)))
			return 1
		}},
		Func{Name: "list_functions", Category: "system", Description: "List exported functions with their category and description", Fn: func(L *lua.LState) int {
			all := r.All()
			tbl := L.CreateTable(len(all), 0)
			for i, f := range all {
				item := L.CreateTable(0, 3)
				item.RawSetString("name", lua.LString(f.Name))
				item.RawSetString("category", lua.LString(f.Category))
				item.RawSetString("description", lua.LString(f.Description))
				tbl.RawSetInt(i+1, item)
			}
			L.Push(tbl)
			return 1
		}},
	)
	return r
}

func millitime(L *lua.LState) int {
	L.Push(lua.LNumber(float64(time.Now().UnixMicro()) / 1e6))
	return 1
}

func getcwd(L *lua.LState) int {
	wd, err := os.Getwd()
	if err != nil {
		L.RaiseError("getcwd: %v", err)
		return 0
	}
	L.Push(lua.LString(wd))
	return 1
}

func listdir(L *lua.LState) int {
	entries, err := os.ReadDir(L.OptString(1, "."))
	if err != nil {
		L.Push(engine.ToLua(L, map[string]any{"error": err.Error()}))
		return 1
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	L.Push(engine.ToLua(L, names))
	return 1
}

func pathInfo(L *lua.LState) int {
	p := L.CheckString(1)
	abs, _ := filepath.Abs(p)
	info := map[string]any{
		"exists":   false,
		"is_file":  false,
		"is_dir":   false,
		"size":     0,
		"basename": filepath.Base(p),
		"dirname":  filepath.Dir(p),
		"abspath":  abs,
	}
	if st, err := os.Stat(p); err == nil {
		info["exists"] = true
		info["is_file"] = st.Mode().IsRegular()
		info["is_dir"] = st.IsDir()
		info["size"] = st.Size()
	}
	L.Push(engine.ToLua(L, info))
	return 1
}

func getenv(L *lua.LState) int {
	if v, ok := os.LookupEnv(L.CheckString(1)); ok {
		L.Push(lua.LString(v))
	} else {
		L.Push(L.Get(2))
	}
	return 1
}

func getenvDotenv(L *lua.LState) int {
	if v, ok := LookupDotenv(L.CheckString(1)); ok {
		L.Push(lua.LString(v))
	} else {
		L.Push(L.Get(2))
	}
	return 1
}

// LookupDotenv reads name from ./.env first, then the process environment.
func LookupDotenv(name string) (string, bool) {
	if vars, err := godotenv.Read(".env"); err == nil {
		if v, ok := vars[name]; ok {
			return v, true
		}
	}
	return os.LookupEnv(name)
}

func multipleValues(L *lua.LState) int {
	L.Push(lua.LString("hello"))
	L.Push(lua.LNumber(42))
	L.Push(engine.ToLua(L, map[string]any{"status": "ok", "message": "multiple values work"}))
	return 3
}

func envFlag(name string) bool {
	v, _ := LookupDotenv(name)
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

func envOr(def string, names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return def
}

// SystemConfig is the table get_config returns and _PY.config holds.
func SystemConfig(info SystemInfo) map[string]any {
	home, _ := os.UserHomeDir()
	wd, _ := os.Getwd()
	cfg := map[string]any{
		"homedir":       home,
		"cwd":           wd,
		"tempdir":       os.TempDir(),
		"fileseparator": string(os.PathSeparator),
		"pathseparator": string(os.PathListSeparator),
		"platform":      runtime.GOOS,
		"architecture":  runtime.GOARCH,
		"go_version":    runtime.Version(),
		"debug":         info.Debug || envFlag("DEBUG"),
		"production":    envFlag("PRODUCTION"),
		"username":      envOr("unknown", "USER", "USERNAME"),
		"path":          os.Getenv("PATH"),
		"lang":          envOr("en_US.UTF-8", "LANG"),
		"plua_version":  info.Version,
		"lua_version":   lua.LuaVersion,
		"host_ip":       hostIP(),
	}
	if info.Runtime != nil {
		cfg["runtime_config"] = info.Runtime
	}
	return cfg
}

// hostIP picks the outbound interface address. Dialing UDP sends nothing.
func hostIP() string {
	conn, err := net.Dial("udp", "10.255.255.255:1")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

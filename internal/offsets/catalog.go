package offsets

import (
	"embed"
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"
)

//go:embed versions/*.yaml
var embeddedVersionConfigs embed.FS

// yamlOffsets mirrors Offsets field-for-field but with yaml tags; kept
// separate so Offsets itself stays a plain, tag-free, byte-copyable record
// suitable for sharing with the kernel side.
type yamlOffsets struct {
	MajorVersion uint32 `yaml:"major_version"`
	MinorVersion uint32 `yaml:"minor_version"`
	PatchVersion uint32 `yaml:"patch_version"`

	ObjectType int64 `yaml:"object_type"`

	TypeName int64 `yaml:"type_name"`

	ThreadStateInterp         int64 `yaml:"thread_state_interp"`
	ThreadStateNext           int64 `yaml:"thread_state_next"`
	ThreadStateFrame          int64 `yaml:"thread_state_frame"`
	ThreadStateThreadID       int64 `yaml:"thread_state_thread_id"`
	ThreadStateNativeThreadID int64 `yaml:"thread_state_native_thread_id"`
	ThreadStateCFrame         int64 `yaml:"thread_state_cframe"`

	CFrameCurrentFrame int64 `yaml:"cframe_current_frame"`

	InterpreterStateTStateHead int64 `yaml:"interpreter_state_tstate_head"`

	RuntimeStateInterpMain int64 `yaml:"runtime_state_interp_main"`

	FrameBack       int64 `yaml:"frame_back"`
	FrameCode       int64 `yaml:"frame_code"`
	FrameLineno     int64 `yaml:"frame_lineno"`
	FrameLocalsplus int64 `yaml:"frame_localsplus"`

	CodeFilename    int64 `yaml:"code_filename"`
	CodeName        int64 `yaml:"code_name"`
	CodeVarnames    int64 `yaml:"code_varnames"`
	CodeFirstlineno int64 `yaml:"code_firstlineno"`

	TupleObItem int64 `yaml:"tuple_ob_item"`

	StringData int64 `yaml:"string_data"`
	StringSize int64 `yaml:"string_size"`
}

func (y yamlOffsets) toOffsets() Offsets {
	return Offsets{
		MajorVersion:               y.MajorVersion,
		MinorVersion:               y.MinorVersion,
		PatchVersion:               y.PatchVersion,
		ObjectType:                 y.ObjectType,
		TypeName:                   y.TypeName,
		ThreadStateInterp:          y.ThreadStateInterp,
		ThreadStateNext:            y.ThreadStateNext,
		ThreadStateFrame:           y.ThreadStateFrame,
		ThreadStateThreadID:        y.ThreadStateThreadID,
		ThreadStateNativeThreadID:  y.ThreadStateNativeThreadID,
		ThreadStateCFrame:          y.ThreadStateCFrame,
		CFrameCurrentFrame:         y.CFrameCurrentFrame,
		InterpreterStateTStateHead: y.InterpreterStateTStateHead,
		RuntimeStateInterpMain:     y.RuntimeStateInterpMain,
		FrameBack:                  y.FrameBack,
		FrameCode:                  y.FrameCode,
		FrameLineno:                y.FrameLineno,
		FrameLocalsplus:            y.FrameLocalsplus,
		CodeFilename:               y.CodeFilename,
		CodeName:                   y.CodeName,
		CodeVarnames:               y.CodeVarnames,
		CodeFirstlineno:            y.CodeFirstlineno,
		TupleObItem:                y.TupleObItem,
		StringData:                 y.StringData,
		StringSize:                 y.StringSize,
	}
}

// Catalog is a read-only, immutable-after-load mapping from canonical
// "pythonM.N" version key to the byte offsets the kernel unwinder needs
// for that interpreter version.
type Catalog struct {
	byKey map[string]Offsets
}

// Load parses the embedded per-version YAML configuration files into a
// Catalog. A parse failure here is fatal to the program: the catalog is
// a read-only configuration resource loaded once at startup.
func Load() (*Catalog, error) {
	entries, err := fs.Glob(embeddedVersionConfigs, "versions/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("list embedded version configs: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no embedded python version configs found")
	}

	byKey := make(map[string]Offsets, len(entries))
	for _, name := range entries {
		raw, err := embeddedVersionConfigs.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read embedded version config %s: %w", name, err)
		}

		var parsed yamlOffsets
		if err := yaml.Unmarshal(raw, &parsed); err != nil {
			return nil, fmt.Errorf("parse embedded version config %s: %w", name, err)
		}

		off := parsed.toOffsets()
		key := off.Version().Key()
		byKey[key] = off
	}

	return &Catalog{byKey: byKey}, nil
}

// Lookup returns the offsets registered for v's (major, minor) pair. The
// bool is false when the version is unsupported; the caller is expected
// to surface that as a recoverable "unsupported Python version" error,
// not a fatal one.
func (c *Catalog) Lookup(v Version) (Offsets, bool) {
	off, ok := c.byKey[v.Key()]
	return off, ok
}

// Keys returns every canonical version key the catalog knows about.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.byKey))
	for k := range c.byKey {
		keys = append(keys, k)
	}
	return keys
}

package xmodem

// Mode selects the integrity scheme a transfer uses.
type Mode int

const (
	// ModeChecksum is the original 8-bit additive checksum variant.
	ModeChecksum Mode = iota
	// ModeCRC is the CRC-16/XMODEM variant, solicited with 'C'.
	ModeCRC
)

func (m Mode) String() string {
	if m == ModeCRC {
		return "crc"
	}
	return "checksum"
}

// trailerLen returns the number of trailer bytes a frame carries in this mode.
func (m Mode) trailerLen() int {
	if m == ModeCRC {
		return 2
	}
	return 1
}

// Config is the immutable configuration chosen at the start of a transfer.
type Config struct {
	Mode Mode
	// UseEscape activates the DLE byte-escape extension for payload bytes.
	// It only affects the receive path; the sender never emits escapes
	// (see SPEC_FULL.md Open Questions — this asymmetry is intentional,
	// inherited from the source implementation).
	UseEscape bool
	// LogLevel ranges 0 (silent) through 3 (byte-level trace).
	LogLevel int
}

// Apply resets the config to the defaults for mode, clearing UseEscape.
// This mirrors xmodem_set_config in the original source, which bzero's the
// whole config struct before setting the requested mode so that no stale
// field survives a mode switch.
func (c *Config) Apply(mode Mode) {
	*c = Config{Mode: mode}
}

// Package workload turns the benchmark's invocation parameters into a
// schedule of scenarios, and builds the tagged GET request each scheduled
// iteration dispatches.
package workload

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidMode is returned for a missing or unknown invocation mode.
	ErrInvalidMode = errors.New("invalid invocation mode")

	// ErrInvalidParameter is returned when the mode-specific parameter is
	// missing or not a positive integer.
	ErrInvalidParameter = errors.New("invalid invocation parameter")

	// ErrMissingURL is returned when a run has no benchmark URL.
	ErrMissingURL = errors.New("benchmark URL is required")

	// ErrInvalidURL is returned for a benchmark URL that is not an absolute
	// http(s) URL.
	ErrInvalidURL = errors.New("invalid benchmark URL")
)

// Mode selects the scheduling strategy.
type Mode string

const (
	// ModeBurst fires bursts of concurrent requests separated by a pause.
	ModeBurst Mode = "BURST"

	// ModeConstant starts one single-request scenario every delay.
	ModeConstant Mode = "CONSTANT"

	// ModeConstantOneVU paces one request per delay through a single VU.
	ModeConstantOneVU Mode = "CONSTANT_ONE_VU"
)

// Modes lists the supported invocation modes.
func Modes() []Mode {
	return []Mode{ModeBurst, ModeConstant, ModeConstantOneVU}
}

// ParseMode parses a mode name, ignoring case and surrounding whitespace.
func ParseMode(s string) (Mode, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: MODE is required (one of %s)", ErrInvalidMode, modeList())
	}

	m := Mode(strings.ToUpper(s))
	for _, known := range Modes() {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q (want one of %s)", ErrInvalidMode, s, modeList())
}

// InvokeMode is the mode as sent in the invokeMode query parameter.
func (m Mode) InvokeMode() string {
	return strings.ToLower(string(m))
}

// ParamName is the environment variable carrying the mode's parameter.
func (m Mode) ParamName() string {
	if m == ModeBurst {
		return "BURST_SIZE"
	}
	return "INVOKE_DELAY"
}

func modeList() string {
	names := make([]string, 0, len(Modes()))
	for _, m := range Modes() {
		names = append(names, string(m))
	}
	return strings.Join(names, ", ")
}

// Params are the externally supplied inputs of a run.
type Params struct {
	Mode Mode

	// BurstSize is the number of concurrent VUs per burst (BURST).
	BurstSize int

	// InvokeDelay is the delay between invocations in milliseconds
	// (CONSTANT and CONSTANT_ONE_VU).
	InvokeDelay int

	// URL is the benchmark endpoint. It may be empty when only planning.
	URL string
}

// ParseParams parses raw parameter values, as read from the environment
// or flags. Only the parameter the mode uses is parsed.
func ParseParams(mode, burstSize, invokeDelay, url string) (Params, error) {
	m, err := ParseMode(mode)
	if err != nil {
		return Params{}, err
	}

	p := Params{Mode: m, URL: strings.TrimSpace(url)}
	switch m {
	case ModeBurst:
		p.BurstSize, err = parsePositive(m.ParamName(), burstSize)
	default:
		p.InvokeDelay, err = parsePositive(m.ParamName(), invokeDelay)
	}
	if err != nil {
		return Params{}, err
	}
	return p, nil
}

func parsePositive(name, raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidParameter, name)
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", ErrInvalidParameter, name, raw)
	}
	return n, nil
}

// Input is the mode-specific parameter, sent as invokeInput.
func (p Params) Input() int {
	if p.Mode == ModeBurst {
		return p.BurstSize
	}
	return p.InvokeDelay
}

// Validate checks the mode and its parameter.
func (p Params) Validate() error {
	if _, err := ParseMode(string(p.Mode)); err != nil {
		return err
	}
	if p.Input() <= 0 {
		return fmt.Errorf("%w: %s must be a positive integer, got %d", ErrInvalidParameter, p.Mode.ParamName(), p.Input())
	}
	return nil
}

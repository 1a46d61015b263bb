package bridge

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Op names an action the in-page dispatcher knows how to perform.
type Op string

const (
	OpPlayVideo         Op = "playVideo"
	OpPauseVideo        Op = "pauseVideo"
	OpSeekVideo         Op = "seekVideo"
	OpSetMuted          Op = "setMuted"
	OpListStorage       Op = "listStorage"
	OpListCookies       Op = "listCookies"
	OpSetStorageItem    Op = "setStorageItem"
	OpRemoveStorageItem Op = "removeStorageItem"
	OpClearStorage      Op = "clearStorage"
	OpSetCookie         Op = "setCookie"
	OpDeleteCookie      Op = "deleteCookie"
	OpClearCookies      Op = "clearCookies"
	OpVerifyInjection   Op = "verifyInjection"
)

// Args carries command operands. Values travel as JSON data and are never
// spliced into script source.
type Args struct {
	Src   string   `json:"src,omitempty"`
	Time  *float64 `json:"time,omitempty"`
	Muted *bool    `json:"muted,omitempty"`
	Key   string   `json:"key,omitempty"`
	Name  string   `json:"name,omitempty"`
	Value *string  `json:"value,omitempty"`
}

// Command is a host-to-surface instruction.
type Command struct {
	Op   Op   `json:"op"`
	Args Args `json:"args"`
}

// Encode serialises the command for delivery to a surface.
func (c Command) Encode() ([]byte, error) {
	data, err := sonic.ConfigStd.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s command: %w", c.Op, err)
	}
	return data, nil
}

// DecodeCommand parses an encoded command.
func DecodeCommand(data []byte) (Command, error) {
	var c Command
	if err := sonic.Unmarshal(data, &c); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return c, nil
}

func PlayVideo(src string) Command { return Command{Op: OpPlayVideo, Args: Args{Src: src}} }
func PauseVideo(src string) Command { return Command{Op: OpPauseVideo, Args: Args{Src: src}} }

func SeekVideo(src string, seconds float64) Command {
	return Command{Op: OpSeekVideo, Args: Args{Src: src, Time: &seconds}}
}

func SetMuted(src string, muted bool) Command {
	return Command{Op: OpSetMuted, Args: Args{Src: src, Muted: &muted}}
}

func ListStorage() Command { return Command{Op: OpListStorage} }
func ListCookies() Command { return Command{Op: OpListCookies} }
func ClearStorage() Command { return Command{Op: OpClearStorage} }
func ClearCookies() Command { return Command{Op: OpClearCookies} }
func VerifyInjection() Command { return Command{Op: OpVerifyInjection} }
func RemoveStorageItem(key string) Command {
	return Command{Op: OpRemoveStorageItem, Args: Args{Key: key}}
}

func SetStorageItem(key, value string) Command {
	return Command{Op: OpSetStorageItem, Args: Args{Key: key, Value: &value}}
}

func SetCookie(name, value string) Command {
	return Command{Op: OpSetCookie, Args: Args{Name: name, Value: &value}}
}

func DeleteCookie(name string) Command {
	return Command{Op: OpDeleteCookie, Args: Args{Name: name}}
}

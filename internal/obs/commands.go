package obs

import (
	"context"
	"time"
)

// Caller issues a request and decodes its response. *Client implements it.
type Caller interface {
	Call(ctx context.Context, requestType string, data, out any) error
}

// Request types used by the live engine.
const (
	ReqGetMediaInputStatus               = "GetMediaInputStatus"
	ReqSetCurrentPreviewScene            = "SetCurrentPreviewScene"
	ReqSetCurrentSceneTransition         = "SetCurrentSceneTransition"
	ReqSetCurrentSceneTransitionDuration = "SetCurrentSceneTransitionDuration"
	ReqTriggerStudioModeTransition       = "TriggerStudioModeTransition"
	ReqGetSceneList                      = "GetSceneList"
	ReqGetSceneTransitionList            = "GetSceneTransitionList"
	ReqGetCurrentSceneTransition         = "GetCurrentSceneTransition"
	ReqSetInputVolume                    = "SetInputVolume"
)

// Scene is an entry in the OBS scene list.
type Scene struct {
	Name  string `json:"sceneName"`
	Index int    `json:"sceneIndex"`
}

// SceneList is the response to GetSceneList.
type SceneList struct {
	CurrentProgramScene string  `json:"currentProgramSceneName"`
	CurrentPreviewScene string  `json:"currentPreviewSceneName"`
	Scenes              []Scene `json:"scenes"`
}

// TransitionEffect is an entry in the OBS scene transition list.
type TransitionEffect struct {
	Name         string `json:"transitionName"`
	Kind         string `json:"transitionKind"`
	Fixed        bool   `json:"transitionFixed"`
	Configurable bool   `json:"transitionConfigurable"`
}

// TransitionList is the response to GetSceneTransitionList.
type TransitionList struct {
	Current     string             `json:"currentSceneTransitionName"`
	Transitions []TransitionEffect `json:"transitions"`
}

// CurrentTransition is the response to GetCurrentSceneTransition.
type CurrentTransition struct {
	Name         string `json:"transitionName"`
	Kind         string `json:"transitionKind"`
	Fixed        bool   `json:"transitionFixed"`
	Configurable bool   `json:"transitionConfigurable"`
	// DurationMS is nil for fixed transitions.
	DurationMS *float64 `json:"transitionDuration"`
}

// Duration is the transition's configured length, or nil if it has none.
func (t CurrentTransition) Duration() *time.Duration {
	if t.DurationMS == nil {
		return nil
	}
	d := time.Duration(*t.DurationMS * float64(time.Millisecond))
	return &d
}

// GetMediaDuration returns the total playback length of a media input.
// Inputs without a known duration report zero.
func GetMediaDuration(ctx context.Context, c Caller, inputName string) (time.Duration, error) {
	var resp struct {
		MediaState    string   `json:"mediaState"`
		MediaDuration *float64 `json:"mediaDuration"`
	}
	if err := c.Call(ctx, ReqGetMediaInputStatus, map[string]any{"inputName": inputName}, &resp); err != nil {
		return 0, err
	}
	if resp.MediaDuration == nil {
		return 0, nil
	}
	return time.Duration(*resp.MediaDuration * float64(time.Millisecond)), nil
}

// SetPreviewScene stages sceneName in the studio-mode preview.
func SetPreviewScene(ctx context.Context, c Caller, sceneName string) error {
	return c.Call(ctx, ReqSetCurrentPreviewScene, map[string]any{"sceneName": sceneName}, nil)
}

// SetTransitionEffect selects the transition used for the next preview→program
// switch.
func SetTransitionEffect(ctx context.Context, c Caller, name string) error {
	return c.Call(ctx, ReqSetCurrentSceneTransition, map[string]any{"transitionName": name}, nil)
}

// SetTransitionDuration sets the length of the current transition. OBS keeps
// the value for every later switch until it is set again.
func SetTransitionDuration(ctx context.Context, c Caller, d time.Duration) error {
	return c.Call(ctx, ReqSetCurrentSceneTransitionDuration, map[string]any{"transitionDuration": d.Milliseconds()}, nil)
}

// GetCurrentSceneTransition describes the selected transition.
func GetCurrentSceneTransition(ctx context.Context, c Caller) (*CurrentTransition, error) {
	var cur CurrentTransition
	if err := c.Call(ctx, ReqGetCurrentSceneTransition, nil, &cur); err != nil {
		return nil, err
	}
	return &cur, nil
}

// TriggerTransition moves the preview scene to program.
func TriggerTransition(ctx context.Context, c Caller) error {
	return c.Call(ctx, ReqTriggerStudioModeTransition, nil, nil)
}

// GetSceneList lists every scene known to OBS.
func GetSceneList(ctx context.Context, c Caller) (*SceneList, error) {
	var list SceneList
	if err := c.Call(ctx, ReqGetSceneList, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetTransitionList lists the configured scene transitions.
func GetTransitionList(ctx context.Context, c Caller) (*TransitionList, error) {
	var list TransitionList
	if err := c.Call(ctx, ReqGetSceneTransitionList, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// SetInputVolume sets an input's volume in decibels.
func SetInputVolume(ctx context.Context, c Caller, inputName string, db float64) error {
	return c.Call(ctx, ReqSetInputVolume, map[string]any{"inputName": inputName, "inputVolumeDb": db}, nil)
}

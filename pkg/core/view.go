package core

// CameraState is the map focal point and whether it tracks the fleet.
type CameraState struct {
	Center Position `json:"center"`
	Follow bool     `json:"followMode"`
}

// View is the derived state handed to renderers after every mutation.
type View struct {
	Vehicles    []Vehicle             `json:"vehicles"`
	Trails      map[string][]Position `json:"trails"`
	SOS         map[string]Alert      `json:"sos"`
	OK          map[string]Alert      `json:"ok"`
	Warnings    map[string]Alert      `json:"warnings"`
	AlarmActive bool                  `json:"alarmActive"`
	Camera      CameraState           `json:"camera"`
}

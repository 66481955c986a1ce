package media

// Configuration of the file-backed capture devices.
type FileDevicesConfig struct {
	// Ogg/Opus file that plays the role of the microphone.
	Microphone string `yaml:"microphone"`
	// IVF (VP8 or VP9) file that plays the role of the camera.
	Camera string `yaml:"camera"`
	// IVF (VP8 or VP9) file that plays the role of the captured display.
	// Sharing stops on its own once the file has been played.
	Display string `yaml:"display"`
	// Capture requests that the "user" declines.
	Deny Permissions `yaml:"deny"`
}

type Permissions struct {
	Microphone bool `yaml:"microphone"`
	Camera     bool `yaml:"camera"`
	Display    bool `yaml:"display"`
}

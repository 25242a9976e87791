package transcription

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Dependency represents a missing dependency.
type Dependency struct {
	Name        string
	Description string
	InstallCmd  string // Platform-specific install command
	Required    bool   // If true, voice won't work without it
}

// SetupStatus represents the voice transcription setup status.
type SetupStatus struct {
	FFmpegInstalled        bool
	FFprobeInstalled       bool
	PythonInstalled        bool
	FasterWhisperInstalled bool
	OpenAIKeySet           bool
	Platform               string
	Backend                string
	Missing                []Dependency
}

// Ready reports whether the configured backend can run.
func (s *SetupStatus) Ready() bool {
	if !s.FFmpegInstalled {
		return false
	}
	switch s.Backend {
	case BackendWhisperAPI:
		return s.OpenAIKeySet
	default:
		return s.PythonInstalled && s.FasterWhisperInstalled
	}
}

// CheckSetup checks what the configured pipeline needs.
func CheckSetup(audio AudioConfig, speech SpeechConfig) *SetupStatus {
	status := &SetupStatus{
		Platform: runtime.GOOS,
		Backend:  speech.Backend,
	}

	status.FFmpegInstalled = commandExists(orDefault(audio.FFmpegPath, "ffmpeg"))
	if !status.FFmpegInstalled {
		status.Missing = append(status.Missing, Dependency{
			Name:        "ffmpeg",
			Description: "Audio conversion (required)",
			InstallCmd:  ffmpegInstallCmd(),
			Required:    true,
		})
	}

	// ffprobe ships with ffmpeg; without it the duration limit is not enforced.
	status.FFprobeInstalled = commandExists(orDefault(audio.FFprobePath, "ffprobe"))
	if !status.FFprobeInstalled {
		status.Missing = append(status.Missing, Dependency{
			Name:        "ffprobe",
			Description: "Audio duration check",
			InstallCmd:  ffmpegInstallCmd(),
		})
	}

	status.OpenAIKeySet = speech.OpenAIAPIKey != ""

	if speech.Backend == BackendWhisperAPI {
		if !status.OpenAIKeySet {
			status.Missing = append(status.Missing, Dependency{
				Name:        "openai_api_key",
				Description: "Whisper API key (required by backend whisper-api)",
				InstallCmd:  "set speech.openai_api_key or OPENAI_API_KEY",
				Required:    true,
			})
		}
		return status
	}

	python := pythonPath(speech.PythonPath)
	status.PythonInstalled = commandExists(python)
	if !status.PythonInstalled {
		status.Missing = append(status.Missing, Dependency{
			Name:        "python3",
			Description: "Runs the local speech model (required by backend faster-whisper)",
			InstallCmd:  pythonInstallCmd(),
			Required:    true,
		})
		return status
	}

	status.FasterWhisperInstalled = checkPythonModule(python, "faster_whisper")
	if !status.FasterWhisperInstalled {
		status.Missing = append(status.Missing, Dependency{
			Name:        "faster-whisper",
			Description: "Local transcription model (required by backend faster-whisper)",
			InstallCmd:  "pip3 install faster-whisper",
			Required:    true,
		})
	}
	return status
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// ffmpegInstallCmd returns the platform-specific ffmpeg install command.
func ffmpegInstallCmd() string {
	switch runtime.GOOS {
	case "darwin":
		if commandExists("brew") {
			return "brew install ffmpeg"
		}
		return ""
	case "linux":
		for _, pm := range []struct{ bin, cmd string }{
			{"apt-get", "sudo apt-get install -y ffmpeg"},
			{"dnf", "sudo dnf install -y ffmpeg"},
			{"yum", "sudo yum install -y ffmpeg"},
			{"pacman", "sudo pacman -S --noconfirm ffmpeg"},
			{"apk", "sudo apk add ffmpeg"},
		} {
			if commandExists(pm.bin) {
				return pm.cmd
			}
		}
		return ""
	case "windows":
		if commandExists("winget") {
			return "winget install -e --id Gyan.FFmpeg"
		}
		if commandExists("choco") {
			return "choco install ffmpeg -y"
		}
		return ""
	default:
		return ""
	}
}

func pythonInstallCmd() string {
	switch runtime.GOOS {
	case "darwin":
		return "brew install python3"
	case "linux":
		if commandExists("apt-get") {
			return "sudo apt-get install -y python3 python3-pip"
		}
		return "install python3 with your package manager"
	default:
		return "install python3 from https://www.python.org/downloads/"
	}
}

// commandExists checks if a command is available in PATH.
func commandExists(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

// checkPythonModule checks if a Python module is installed.
func checkPythonModule(python, module string) bool {
	cmd := exec.Command(python, "-c", fmt.Sprintf("import %s", module))
	return cmd.Run() == nil
}

// InstallInstructions returns human-readable setup instructions for what
// status reports missing.
func InstallInstructions(status *SetupStatus) string {
	if len(status.Missing) == 0 {
		return "Voice transcription is ready (backend: " + status.Backend + ")\n"
	}

	var sb strings.Builder
	sb.WriteString("Voice setup\n")
	sb.WriteString("-----------\n")
	for _, dep := range status.Missing {
		marker := "optional"
		if dep.Required {
			marker = "required"
		}
		fmt.Fprintf(&sb, "• %s (%s): %s\n", dep.Name, marker, dep.Description)
		if dep.InstallCmd != "" {
			fmt.Fprintf(&sb, "    %s\n", dep.InstallCmd)
		}
	}
	return sb.String()
}

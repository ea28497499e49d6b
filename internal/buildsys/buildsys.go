// Package buildsys classifies firmware source trees into a known build
// system and runs the native tool for each one.
package buildsys

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// System identifies a supported build system.
type System string

const (
	SystemCargo      System = "cargo"
	SystemMakefile   System = "makefile"
	SystemCMake      System = "cmake"
	SystemPlatformIO System = "platformio"
	SystemZephyrWest System = "zephyr-west"
	SystemSTM32Cube  System = "stm32cubeide"
	SystemSCons      System = "scons"
)

// Systems lists all supported systems in detection priority order.
func Systems() []System {
	return []System{
		SystemCargo,
		SystemMakefile,
		SystemCMake,
		SystemPlatformIO,
		SystemZephyrWest,
		SystemSTM32Cube,
		SystemSCons,
	}
}

// MarkerFile returns the primary marker file for a system, used for
// project fingerprinting. STM32 has no fixed name; its marker is any
// *.project/*.cproject file.
func (s System) MarkerFile() string {
	switch s {
	case SystemCargo:
		return "Cargo.toml"
	case SystemMakefile:
		return "Makefile"
	case SystemCMake:
		return "CMakeLists.txt"
	case SystemPlatformIO:
		return "platformio.ini"
	case SystemZephyrWest:
		return "west.yml"
	case SystemSCons:
		return "SConstruct"
	default:
		return ""
	}
}

// Result describes the outcome of a single build attempt. It is
// immutable once constructed.
type Result struct {
	Success      bool          `json:"success"`
	OutputPath   string        `json:"output_path,omitempty"`
	TargetFormat string        `json:"target_format,omitempty"`
	Output       string        `json:"output,omitempty"`
	ErrorOutput  string        `json:"error_output,omitempty"`
	System       System        `json:"build_system"`
	Duration     time.Duration `json:"duration"`
}

// Detect inspects path and returns the build system it uses. The check
// order is a fixed policy: a project carrying several markers resolves
// deterministically, with the native Cargo manifest winning over the
// generic systems.
func Detect(path string) (System, bool) {
	if fileExists(filepath.Join(path, "Cargo.toml")) {
		return SystemCargo, true
	}
	if fileExists(filepath.Join(path, "Makefile")) || fileExists(filepath.Join(path, "makefile")) {
		return SystemMakefile, true
	}
	if fileExists(filepath.Join(path, "CMakeLists.txt")) {
		return SystemCMake, true
	}
	if fileExists(filepath.Join(path, "platformio.ini")) {
		return SystemPlatformIO, true
	}
	if fileExists(filepath.Join(path, "west.yml")) || dirExists(filepath.Join(path, ".west")) {
		return SystemZephyrWest, true
	}
	if hasSTM32ProjectFiles(path) {
		return SystemSTM32Cube, true
	}
	if fileExists(filepath.Join(path, "SConstruct")) || fileExists(filepath.Join(path, "SConscript")) {
		return SystemSCons, true
	}
	return "", false
}

func hasSTM32ProjectFiles(path string) bool {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".project") || strings.HasSuffix(name, ".cproject") {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

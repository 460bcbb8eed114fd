package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// resolveRuntimeFiles validates the model file and locates the ONNX Runtime
// shared library. libPath may name the library itself or a directory
// holding the platform's default library file.
func resolveRuntimeFiles(modelPath, libPath string) (string, string, error) {
	absModel, err := filepath.Abs(filepath.Clean(modelPath))
	if err != nil {
		return "", "", fmt.Errorf("resolve model path: %w", err)
	}
	if _, err := os.Stat(absModel); os.IsNotExist(err) {
		return "", "", fmt.Errorf("model file not found: %s", absModel)
	}

	lib, err := resolveLibrary(libPath)
	if err != nil {
		return "", "", err
	}
	return absModel, lib, nil
}

func resolveLibrary(libPath string) (string, error) {
	info, err := os.Stat(libPath)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("onnxruntime library not found: %s", libPath)
	}
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return libPath, nil
	}

	lib := filepath.Join(libPath, libraryName())
	if _, err := os.Stat(lib); os.IsNotExist(err) {
		return "", fmt.Errorf("onnxruntime library not found in %s", libPath)
	}
	return lib, nil
}

func libraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// Package profile defines how a supported language is compiled and run.
package profile

import "time"

// LanguageSpec defines how to compile and run a language.
// Command templates are tokenised before {compiler}, {src}, {bin} and
// {extraFlags} are substituted, so paths can never introduce new arguments.
type LanguageSpec struct {
	ID             string        `yaml:"id"`
	Name           string        `yaml:"name"`
	Version        string        `yaml:"version"`
	Compiler       string        `yaml:"compiler"`
	SourceFile     string        `yaml:"sourceFile"`
	BinaryFile     string        `yaml:"binaryFile"`
	CompileCmdTpl  string        `yaml:"compileCmd"`
	RunCmdTpl      string        `yaml:"runCmd"`
	CompileFlags   []string      `yaml:"compileFlags"`
	Env            []string      `yaml:"env"`
	CompileTimeout time.Duration `yaml:"compileTimeout"`
}

// DefaultC returns the built-in C toolchain definition.
func DefaultC(compilerPath string) LanguageSpec {
	if compilerPath == "" {
		compilerPath = "gcc"
	}
	return LanguageSpec{
		ID:            "c",
		Name:          "C",
		Version:       "c11",
		Compiler:      compilerPath,
		SourceFile:    "main.c",
		BinaryFile:    "main",
		CompileCmdTpl: "{compiler} -O2 -std=c11 -o {bin} {src} {extraFlags} -lm",
		RunCmdTpl:     "{bin}",
		Env:           []string{"PATH=/usr/local/bin:/usr/bin:/bin"},
	}
}

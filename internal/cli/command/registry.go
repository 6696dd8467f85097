package command

import (
	"encoding/json"
	"fmt"
)

// Registry returns all CLI commands keyed by name.
func Registry() map[string]Command {
	commands := []Command{
		{
			Name:   "run",
			Usage:  `run file=./main.c [input="Larry"|input_file=./in.txt] [language=c]`,
			Method: "POST",
			Path:   "/run",
			Fields: []Field{
				{Name: "code", Prompt: "code", Type: FieldString, Required: false},
				{Name: "file", Aliases: []string{"source_file", "src"}, Prompt: "source file", Type: FieldFile, Required: false},
				{Name: "input", Aliases: []string{"stdin"}, Prompt: "input", Type: FieldString, Required: false},
				{Name: "input_file", Prompt: "input file", Type: FieldFile, Required: false},
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldString, Required: false},
			},
		},
		{
			Name:   "languages",
			Usage:  "languages",
			Method: "GET",
			Path:   "/languages",
		},
		{
			Name:   "health",
			Usage:  "health",
			Method: "GET",
			Path:   "/healthz",
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Name] = cmd
	}
	return result
}

// BuildRequest turns a command and its params into an HTTP request.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)

	var body []byte
	if cmd.Method != "GET" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    cmd.Path,
		Headers: map[string]string{},
		Body:    body,
	}, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	switch cmd.Name {
	case "run":
		return buildRunPayload(params)
	}
	return nil, nil
}

func buildRunPayload(params Params) (interface{}, error) {
	code := params.Get("code")
	if code == "" && params.Get("file") != "" {
		data, err := ReadFile(params.Get("file"))
		if err != nil {
			return nil, err
		}
		code = data
	}
	if code == "" {
		return nil, fmt.Errorf("code or file is required")
	}

	payload := map[string]interface{}{
		"code":     code,
		"language": params.Get("language"),
	}
	switch {
	case params.Has("input"):
		payload["input"] = params.Get("input")
	case params.Get("input_file") != "":
		data, err := ReadFile(params.Get("input_file"))
		if err != nil {
			return nil, err
		}
		payload["input"] = data
	}
	return payload, nil
}

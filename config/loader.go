package config

import (
	"bytes"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aptpod/wsconn-go/errors"
)

// Loadは、YAMLの設定ファイルを読み込みます。${VAR}形式の環境変数は展開されます。
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parseは、YAMLの設定を解析します。
//
// 未知のキーが含まれる場合は errors.ErrInvalidConfig を返却します。
func Parse(data []byte) (*File, error) {
	expanded := os.ExpandEnv(string(data))

	dec := yaml.NewDecoder(bytes.NewBufferString(expanded))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Errorf("parse config yaml: %v: %w", err, errors.ErrInvalidConfig)
	}
	return &f, nil
}

// Marshalは、設定をYAMLへ変換します。
func Marshal(f *File) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, errors.Errorf("encode config yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Errorf("encode config yaml: %w", err)
	}
	return buf.Bytes(), nil
}

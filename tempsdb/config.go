// Copyright 2024 The tempsdb Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package tempsdb

import (
	"github.com/tempsdb/tempsdb/golibs/config"
)

// configValues is the structure LoadOptions populates from environment
// variables and an optional JSON secrets file, mirroring Options but with
// JSON tags so golibs/config can address its fields by alias.
type configValues struct {
	MaxEntriesPerChunk uint32 `json:"maxEntriesPerChunk"`
	PageSize           uint32 `json:"pageSize"`
	GzipLevel          int    `json:"gzipLevel"`
}

// LoadOptions builds Options from defaults, then environment variables
// prefixed with envPrefix (e.g. TEMPSDB_MAXENTRIESPERCHUNK), then, if
// secretsFile is non-empty, key-values from that JSON file, each step
// overriding the one before it: a secrets-file value wins over an
// environment variable, which wins over the default.
func LoadOptions(envPrefix, secretsFile string, defaults Options) (Options, error) {
	e := config.NewEnricher(configValues{
		MaxEntriesPerChunk: defaults.MaxEntriesPerChunk,
		PageSize:           defaults.PageSize,
		GzipLevel:          defaults.GzipLevel,
	})
	if err := e.ApplyEnvVariables(envPrefix, "_"); err != nil {
		return Options{}, err
	}
	if secretsFile != "" {
		if err := config.LoadJSONAndApply[configValues](e, secretsFile); err != nil {
			return Options{}, err
		}
	}
	v := e.Value()
	return Options{
		MaxEntriesPerChunk: v.MaxEntriesPerChunk,
		PageSize:           v.PageSize,
		GzipLevel:          v.GzipLevel,
	}, nil
}

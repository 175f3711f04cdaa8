/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package query

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tomoncle/datakit/types"
)

// CriteriaPresets are named dynamic criteria loaded from configuration:
//
//	presets:
//	  top-rated:
//	    filter: "Rating >= @0"
//	    parameters: [4]
//	    sorts: "Rating desc, Id"
//	    page_size: 20
type CriteriaPresets map[string]*types.DynamicPaginatedCriteria

type presetFile struct {
	Presets CriteriaPresets `yaml:"presets"`
}

// LoadCriteriaPresets parses presets from YAML. Every filter and sort is
// checked for syntax so that a bad preset fails at load time.
func LoadCriteriaPresets(data []byte) (CriteriaPresets, error) {
	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse criteria presets: %w", err)
	}
	for name, c := range file.Presets {
		if c == nil {
			return nil, types.NewError(types.InvalidArgumentKind, "preset", "preset %q is empty", name)
		}
		if c.CurrentPage == 0 {
			c.CurrentPage = types.DefaultCurrentPage
		}
		if c.PageSize == 0 {
			c.PageSize = types.DefaultPageSize
		}
		if err := c.Paging().Validate(); err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
		expr, err := Parse(c.FilterClause)
		if err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
		if _, err := BindParams(expr, c.FilterParameters...); err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
		if _, err := ParseSort(c.Sorts); err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
	}
	return file.Presets, nil
}

// LoadCriteriaPresetsFile reads presets from a YAML file.
func LoadCriteriaPresetsFile(path string) (CriteriaPresets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read criteria presets: %w", err)
	}
	return LoadCriteriaPresets(data)
}

// Get returns a copy of the named preset so callers may adjust paging.
func (p CriteriaPresets) Get(name string) (*types.DynamicPaginatedCriteria, bool) {
	c, ok := p[name]
	if !ok {
		return nil, false
	}
	out := *c
	out.FilterParameters = append([]interface{}(nil), c.FilterParameters...)
	out.Includes = append([]string(nil), c.Includes...)
	return &out, true
}

/*
Copyright © 2024 the treecl authors.
This file is part of treecl.

treecl is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

treecl is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with treecl.  If not, see <http://www.gnu.org/licenses/>.
*/

package treeclutil

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/treecl"
	"github.com/spatialmodel/treecl/storage"
	"github.com/spf13/cast"
)

// splitList splits a list that was specified as a single string, e.g.
// in an environment variable or as the string value of a flag, at
// commas and white space.
func splitList(s string) []string {
	s = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(s), "["), "]")
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// getStringSlice returns the list held in the configuration variable
// varName, expanding any environment variables in its elements.
func getStringSlice(varName string) ([]string, error) {
	i := Cfg.Get(varName)
	if s, ok := i.(string); ok {
		i = splitList(s)
	}
	o, err := cast.ToStringSliceE(i)
	if err != nil {
		return nil, fmt.Errorf("treecl: reading configuration variable %s: %v", varName, err)
	}
	var out []string
	for _, v := range o {
		if v = strings.TrimSpace(os.ExpandEnv(v)); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

// getIntSlice returns the list of integers held in the configuration
// variable varName.
func getIntSlice(varName string) ([]int, error) {
	i := Cfg.Get(varName)
	if s, ok := i.(string); ok {
		i = splitList(s)
	}
	o, err := cast.ToIntSliceE(i)
	if err != nil {
		return nil, fmt.Errorf("treecl: reading configuration variable %s: %v", varName, err)
	}
	return o, nil
}

// responseOption returns the prefix of the configuration variables of
// the response variable r, e.g. "Growth" for growth.
func responseOption(r treecl.Response) string {
	return strings.ToUpper(r.Name[:1]) + r.Name[1:]
}

// PipelineConfig creates a pipeline configuration from the information
// in Cfg, loading the species response tables that it names.
func PipelineConfig(ctx context.Context) (*treecl.Config, error) {
	cfg := &treecl.Config{
		Period:                 os.ExpandEnv(Cfg.GetString("Period")),
		ExpectedBasalAreaCount: Cfg.GetInt("ExpectedBasalAreaCount"),
		RequireAllSpecies:      Cfg.GetBool("RequireAllSpecies"),
		Percentile:             Cfg.GetFloat64("Percentile"),
		TileRows:               Cfg.GetInt("TileRows"),
		Workers:                Cfg.GetInt("Workers"),
		Tables:                 make(map[string]*treecl.ResponseTable),
	}
	if cfg.Period == "" {
		return nil, fmt.Errorf("treecl: the Period configuration variable must be set")
	}
	if cfg.Percentile < 0 || cfg.Percentile > 100 {
		return nil, fmt.Errorf("treecl: Percentile must be between 0 and 100 but is %g", cfg.Percentile)
	}
	if cfg.TileRows < 0 {
		return nil, fmt.Errorf("treecl: TileRows must not be negative but is %d", cfg.TileRows)
	}
	if cfg.ExpectedBasalAreaCount < 0 {
		return nil, fmt.Errorf("treecl: ExpectedBasalAreaCount must not be negative but is %d", cfg.ExpectedBasalAreaCount)
	}

	elements, err := getStringSlice("Elements")
	if err != nil {
		return nil, err
	}
	for _, s := range elements {
		e, err := treecl.ParseElement(s)
		if err != nil {
			return nil, err
		}
		cfg.Elements = append(cfg.Elements, e)
	}

	responses, err := getStringSlice("Responses")
	if err != nil {
		return nil, err
	}
	for _, s := range responses {
		r, err := treecl.ResponseByName(s)
		if err != nil {
			return nil, err
		}
		opt := responseOption(r)
		r.Reduction = Cfg.GetFloat64(opt + ".Reduction")
		r.T = Cfg.GetFloat64(opt + ".T")
		if r.Reduction <= 0 || r.Reduction >= 1 {
			return nil, fmt.Errorf("treecl: %s.Reduction must be between 0 and 1 but is %g", opt, r.Reduction)
		}
		if r.T <= 0 {
			return nil, fmt.Errorf("treecl: %s.T must be positive but is %g", opt, r.T)
		}
		cfg.Responses = append(cfg.Responses, r)

		src := os.ExpandEnv(Cfg.GetString(opt + "Table"))
		if src == "" {
			continue
		}
		t, err := LoadResponseTable(ctx, src, r.Name)
		if err != nil {
			return nil, err
		}
		cfg.Tables[r.Name] = t
	}

	if cfg.Species, err = getIntSlice("Species"); err != nil {
		return nil, err
	}

	sources, err := getStringSlice("AggregateSources")
	if err != nil {
		return nil, err
	}
	for _, s := range sources {
		a, err := treecl.ParseAggregateSource(s)
		if err != nil {
			return nil, err
		}
		cfg.AggregateSources = append(cfg.AggregateSources, a)
	}
	return cfg, nil
}

// Workspace is a workspace in blob storage with an in-memory cache of
// recently read rasters.
type Workspace struct {
	*storage.Cached
	blob *storage.BlobWorkspace
}

// Close closes the underlying storage.
func (w *Workspace) Close() error { return w.blob.Close() }

// OpenWorkspace opens the workspace specified by the Workspace
// configuration variable. Storage retries are logged to log, or to the
// standard logger if log is nil.
func OpenWorkspace(ctx context.Context, log logrus.FieldLogger) (*Workspace, error) {
	url := os.ExpandEnv(Cfg.GetString("Workspace"))
	if url == "" {
		return nil, fmt.Errorf("treecl: the Workspace configuration variable must be set")
	}
	b, err := storage.OpenWorkspace(ctx, url)
	if err != nil {
		return nil, err
	}
	if log != nil {
		b.Log = log
	}
	return &Workspace{
		Cached: storage.NewCached(b, Cfg.GetInt("CacheSize")),
		blob:   b,
	}, nil
}

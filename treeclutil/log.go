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
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger returns a logger that writes to stdout and, if the LogFile
// configuration variable is set, to that file. The returned file, if not
// nil, must be closed by the caller.
func NewLogger(stdout io.Writer) (*logrus.Logger, io.Closer, error) {
	level, err := logrus.ParseLevel(Cfg.GetString("LogLevel"))
	if err != nil {
		return nil, nil, fmt.Errorf("treecl: invalid LogLevel: %v", err)
	}
	log := logrus.New()
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetOutput(stdout)

	path := os.ExpandEnv(Cfg.GetString("LogFile"))
	if path == "" {
		return log, nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("treecl: creating log file: %v", err)
	}
	log.SetOutput(io.MultiWriter(stdout, f))
	return log, f, nil
}

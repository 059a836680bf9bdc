// utils.go - filesystem helpers
// Copyright (C) 2026  The dotmap authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package utils implements shared helpers.
package utils

import (
	"fmt"
	"os"
)

// MkDataDir creates a private directory d if it does not already exist,
// and validates its permissions if it does.
func MkDataDir(d string) error {
	fi, err := os.Lstat(d)
	if err != nil {
		if os.IsNotExist(err) {
			return os.Mkdir(d, 0700)
		}
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("utils: '%v' is not a directory", d)
	}
	if perm := fi.Mode().Perm(); perm != 0700 {
		return fmt.Errorf("utils: '%v' has invalid permissions '%v'", d, perm)
	}
	return nil
}

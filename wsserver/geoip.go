// Copyright 2018 Jigsaw Operations LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wsserver

import (
	"net"

	"github.com/oschwald/geoip2-golang"
)

// OpenGeoDB opens a MaxMind GeoLite2-Country database and returns a
// GeoLookup bound to it. The caller is responsible for closing the
// returned *geoip2.Reader when the process exits.
func OpenGeoDB(path string) (*geoip2.Reader, GeoLookup, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, nil, err
	}
	lookup := func(ip net.IP) string {
		if ip == nil {
			return ""
		}
		rec, err := db.Country(ip)
		if err != nil || rec == nil {
			return ""
		}
		return rec.Country.IsoCode
	}
	return db, lookup, nil
}

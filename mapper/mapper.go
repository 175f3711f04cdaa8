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

package mapper

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"

	"github.com/tomoncle/datakit/types"
)

// Binding assigns the source field Src to the destination field Dst. Both
// are Go field names.
type Binding struct {
	Src string
	Dst string
}

type pair struct {
	src reflect.Type
	dst reflect.Type
}

func (p pair) String() string { return p.src.String() + " -> " + p.dst.String() }

// Option customizes one map.
type Option func(*profile)

// Ignore leaves the named destination fields untouched.
func Ignore(dstFields ...string) Option {
	return func(p *profile) {
		for _, f := range dstFields {
			p.ignored[normalize(f)] = true
		}
	}
}

// ForMember fills dstField from srcField instead of the same-named field.
func ForMember(dstField, srcField string) Option {
	return func(p *profile) { p.members[normalize(dstField)] = srcField }
}

type profile struct {
	ignored map[string]bool
	members map[string]string
}

// plan is the compiled form of a profile.
type plan struct {
	bindings []Binding
	err      error
}

// Mapper holds the configured maps between pairs of struct types. It is safe
// for concurrent use once configured.
type Mapper struct {
	mu       sync.RWMutex
	profiles map[pair]*profile
	plans    map[pair]*plan
}

func New() *Mapper {
	return &Mapper{
		profiles: make(map[pair]*profile),
		plans:    make(map[pair]*plan),
	}
}

// CreateMap configures the map from S to D. Destination fields are matched
// to source fields by name, ignoring case and underscores.
func CreateMap[S any, D any](m *Mapper, opts ...Option) *Mapper {
	m.Register(typeOf[S](), typeOf[D](), opts...)
	return m
}

// Register is the non-generic form of CreateMap.
func (m *Mapper) Register(src, dst reflect.Type, opts ...Option) {
	p := &profile{ignored: map[string]bool{}, members: map[string]string{}}
	for _, opt := range opts {
		opt(p)
	}
	key := pair{src: indirect(src), dst: indirect(dst)}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[key] = p
	delete(m.plans, key)
}

// Bindings returns the field bindings of the src to dst map.
func (m *Mapper) Bindings(src, dst reflect.Type) ([]Binding, error) {
	pl, err := m.plan(pair{src: indirect(src), dst: indirect(dst)})
	if err != nil {
		return nil, err
	}
	return append([]Binding(nil), pl.bindings...), nil
}

// Validate checks that every destination field of the S to D map is bound
// or ignored, and that every binding has compatible types.
func Validate[S any, D any](m *Mapper) error {
	_, err := m.plan(pair{src: typeOf[S](), dst: typeOf[D]()})
	return err
}

// Map builds a new D from src.
func Map[S any, D any](m *Mapper, src *S) (*D, error) {
	dst := new(D)
	if err := MapOnto(m, src, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// MapOnto copies the bound fields of src into dst, leaving the others as
// they are.
func MapOnto[S any, D any](m *Mapper, src *S, dst *D) error {
	if src == nil || dst == nil {
		return types.NewError(types.InvalidArgumentKind, "map", "source and destination must not be nil")
	}
	pl, err := m.plan(pair{src: typeOf[S](), dst: typeOf[D]()})
	if err != nil {
		return err
	}
	return apply(pl, reflect.ValueOf(src).Elem(), dst)
}

// MapSlice maps every element of src.
func MapSlice[S any, D any](m *Mapper, src []*S) ([]*D, error) {
	out := make([]*D, 0, len(src))
	for _, s := range src {
		d, err := Map[S, D](m, s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func apply(pl *plan, src reflect.Value, dst interface{}) error {
	values := make(map[string]interface{}, len(pl.bindings))
	for _, b := range pl.bindings {
		fv := src.FieldByName(b.Src)
		if fv.Kind() == reflect.Ptr && fv.IsNil() {
			continue
		}
		values[b.Dst] = fv.Interface()
	}
	return Decode(values, dst)
}

// Decode assigns the named values onto the struct pointed to by dst. Keys are
// Go field names; values are converted with weak typing.
func Decode(values map[string]interface{}, dst interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		TagName:          "mapper",
		WeaklyTypedInput: true,
		Squash:           true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc("2006-01-02T15:04:05Z07:00"),
			mapstructure.StringToTimeDurationHookFunc(),
			exactIntegerHook,
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(values); err != nil {
		return types.WrapError(types.InvalidArgumentKind, "map", err)
	}
	return nil
}

// exactIntegerHook rejects numbers that an integer destination cannot hold
// exactly: fractions, NaN, negatives for unsigned fields and overflows.
func exactIntegerHook(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if data == nil {
		return data, nil
	}
	v := reflect.ValueOf(data)
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var x int64
		switch {
		case v.CanInt():
			x = v.Int()
		case v.CanUint():
			if v.Uint() > math.MaxInt64 {
				return nil, fmt.Errorf("%v overflows %s", data, to)
			}
			x = int64(v.Uint())
		case v.CanFloat():
			f := v.Float()
			if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
				return nil, fmt.Errorf("%v is not a valid %s", data, to)
			}
			x = int64(f)
		default:
			return data, nil
		}
		if reflect.Zero(to).OverflowInt(x) {
			return nil, fmt.Errorf("%v overflows %s", data, to)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var x uint64
		switch {
		case v.CanInt():
			if v.Int() < 0 {
				return nil, fmt.Errorf("%v is not a valid %s", data, to)
			}
			x = uint64(v.Int())
		case v.CanUint():
			x = v.Uint()
		case v.CanFloat():
			f := v.Float()
			if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
				return nil, fmt.Errorf("%v is not a valid %s", data, to)
			}
			x = uint64(f)
		default:
			return data, nil
		}
		if reflect.Zero(to).OverflowUint(x) {
			return nil, fmt.Errorf("%v overflows %s", data, to)
		}
	}
	return data, nil
}

func (m *Mapper) plan(key pair) (*plan, error) {
	m.mu.RLock()
	pl, ok := m.plans[key]
	prof, configured := m.profiles[key]
	m.mu.RUnlock()
	if ok {
		return pl, pl.err
	}
	if !configured {
		return nil, types.NewError(types.InvalidArgumentKind, "map", "no map configured for %s", key)
	}
	pl = compile(key, prof)
	m.mu.Lock()
	m.plans[key] = pl
	m.mu.Unlock()
	return pl, pl.err
}

func compile(key pair, prof *profile) *plan {
	if key.src.Kind() != reflect.Struct || key.dst.Kind() != reflect.Struct {
		return &plan{err: types.NewError(types.InvalidArgumentKind, "map", "%s: both sides must be structs", key)}
	}
	srcFields := fieldsOf(key.src)
	var problems []string
	var bindings []Binding
	for _, df := range fieldsOf(key.dst) {
		norm := normalize(df.Name)
		if prof.ignored[norm] {
			continue
		}
		want := df.Name
		if explicit, ok := prof.members[norm]; ok {
			want = explicit
		}
		sf, ok := srcFields[normalize(want)]
		if !ok {
			problems = append(problems, fmt.Sprintf("%s is not mapped", df.Name))
			continue
		}
		if !compatible(sf.Type, df.Type) {
			problems = append(problems, fmt.Sprintf("%s (%s) cannot be assigned from %s (%s)", df.Name, df.Type, sf.Name, sf.Type))
			continue
		}
		bindings = append(bindings, Binding{Src: sf.Name, Dst: df.Name})
	}
	for name := range prof.members {
		if _, ok := fieldsOf(key.dst)[name]; !ok {
			problems = append(problems, fmt.Sprintf("ForMember target %s does not exist", name))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return &plan{err: types.NewError(types.InvalidArgumentKind, "map", "%s: %s", key, strings.Join(problems, "; "))}
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].Dst < bindings[j].Dst })
	return &plan{bindings: bindings}
}

// fieldsOf lists the exported, non-embedded fields of t, promoted ones
// included, keyed by normalized name.
func fieldsOf(t reflect.Type) map[string]reflect.StructField {
	out := make(map[string]reflect.StructField)
	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous || !f.IsExported() {
			continue
		}
		out[normalize(f.Name)] = f
	}
	return out
}

func compatible(src, dst reflect.Type) bool {
	if src.AssignableTo(dst) || src.ConvertibleTo(dst) {
		return true
	}
	if src.Kind() == reflect.Ptr && src.Elem().ConvertibleTo(dst) {
		return true
	}
	if dst.Kind() == reflect.Ptr && src.ConvertibleTo(dst.Elem()) {
		return true
	}
	return false
}

func normalize(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}

func indirect(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func typeOf[T any]() reflect.Type {
	return indirect(reflect.TypeOf((*T)(nil)).Elem())
}

package stats

import "reflect"
import "strconv"
import "sync/atomic"

const Stats = true

type Counter_t int64

func (c *Counter_t) Inc() {
	if Stats {
		atomic.AddInt64((*int64)(c), 1)
	}
}

func (c *Counter_t) Get() int64 {
	return atomic.LoadInt64((*int64)(c))
}

var countertype = reflect.TypeOf(Counter_t(0))

// renders every Counter_t field of the struct st as "#Name: value" lines.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	s := ""
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if !v.Type().Field(i).IsExported() {
			continue
		}
		if f.Type() != countertype {
			continue
		}
		var n int64
		if f.CanAddr() {
			n = f.Addr().Interface().(*Counter_t).Get()
		} else {
			n = int64(f.Interface().(Counter_t))
		}
		s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(n, 10)
	}
	return s + "\n"
}

package debugserver

import (
	"expvar"
	"net/http"
	"runtime"
	"runtime/debug"
)

func expvarHandler(w http.ResponseWriter, r *http.Request) {
	expvar.Handler().ServeHTTP(w, r)
}

func gcHandler(w http.ResponseWriter, r *http.Request) {
	runtime.GC()
	http.Redirect(w, r, "debug", http.StatusFound)
}

func freeOSMemoryHandler(w http.ResponseWriter, r *http.Request) {
	debug.FreeOSMemory()
	http.Redirect(w, r, "debug", http.StatusFound)
}

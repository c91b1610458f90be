package api

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/urfave/negroni"
	"lecca.io/mind-watchtower/internal/logger"
)

// newRecovery turns handler panics into the generic JSON 500. The stack
// goes to the log only, never to the client or the /ws log stream.
func newRecovery() *negroni.Recovery {
	rec := negroni.NewRecovery()
	rec.PrintStack = false
	rec.Logger = panicLogger{}
	rec.Formatter = jsonPanicFormatter{}
	return rec
}

type jsonPanicFormatter struct{}

func (jsonPanicFormatter) FormatPanicError(w http.ResponseWriter, r *http.Request, _ *negroni.PanicInformation) {
	// Status and headers are already written by negroni.
	if _, err := w.Write([]byte(`{"error":"` + msgInternal + `"}` + "\n")); err != nil {
		logger.Debug("API", "write panic response for %s: %v", r.URL.Path, err)
	}
}

type panicLogger struct{}

func (panicLogger) Println(v ...interface{}) {
	logger.WithFields("API", logrus.Fields{"middleware": "recovery"}).Error(fmt.Sprint(v...))
}

func (panicLogger) Printf(format string, v ...interface{}) {
	logger.WithFields("API", logrus.Fields{"middleware": "recovery"}).Errorf(format, v...)
}

// jsonContentType defaults every response to JSON so a recovered panic,
// whose headers negroni flushes before the body, is still typed correctly.
func jsonContentType(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	w.Header().Set("Content-Type", "application/json")
	next(w, r)
}

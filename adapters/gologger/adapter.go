// Package gologger resolves one go-logger provider for the changefeed and
// hands views of it to the service and the go-job runtime.
package gologger

import (
	"strings"

	"github.com/goliatone/go-changefeed/core"
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const DefaultName = "changefeed"

// Loggers is a resolved provider and logger pair. Its zero value is not
// usable; build it with New.
type Loggers struct {
	Name     string
	Provider glog.LoggerProvider
	Logger   glog.Logger
}

// New resolves with precedence provider, then logger, then nop.
func New(name string, provider glog.LoggerProvider, logger glog.Logger) Loggers {
	if name = strings.TrimSpace(name); name == "" {
		name = DefaultName
	}
	resolvedProvider, resolvedLogger := glog.Resolve(name, provider, logger)
	return Loggers{Name: name, Provider: resolvedProvider, Logger: resolvedLogger}
}

func (l Loggers) ServiceOptions() []core.Option {
	return []core.Option{
		core.WithLoggerProvider(l.Provider),
		core.WithLogger(l.Logger),
	}
}

func (l Loggers) JobProvider() job.LoggerProvider {
	if l.Provider == nil {
		return nil
	}
	return job.GoLoggerProvider(l.Provider)
}

func (l Loggers) JobLogger() job.Logger {
	if l.Logger == nil {
		return nil
	}
	return job.GoLogger(l.Logger)
}

func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	resolved := New(name, provider, logger)
	return resolved.Provider, resolved.Logger
}

// ServiceOptions resolves under DefaultName so the service and its job
// runtime log through one provider.
func ServiceOptions(provider glog.LoggerProvider, logger glog.Logger) []core.Option {
	return New(DefaultName, provider, logger).ServiceOptions()
}

func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolved := New(name, provider, logger)
	return resolved.Provider, resolved.Logger, resolved.JobProvider(), resolved.JobLogger()
}

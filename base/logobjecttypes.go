// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

package base

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// LogEventType : predefined event types carried in every log record
type LogEventType string

const (
	// UnknownType : invalid event type
	UnknownType LogEventType = ""
	// LogObjectEventType : used for logging object state when a change happens
	LogObjectEventType LogEventType = "log"
)

// LogObjectType : the kind of object a log record is about
type LogObjectType string

const (
	// UnknownLogType : invalid log type
	UnknownLogType LogObjectType = ""
	// UpdateStatusLogType :
	UpdateStatusLogType LogObjectType = "update_status"
	// DownloadStatusLogType :
	DownloadStatusLogType LogObjectType = "download_status"
	// BootRecordLogType :
	BootRecordLogType LogObjectType = "boot_record"
	// HealthReportLogType :
	HealthReportLogType LogObjectType = "health_report"
)

// LogObject : holds all key value pairs to be logged later.
type LogObject struct {
	Initialized bool
	Fields      map[string]interface{}
	logger      *logrus.Logger
}

// logSourceObjectMap tracks objects for NewSourceLogObject
var logSourceObjectMap sync.Map

// NewSourceLogObject : create an object with agentName and agentPid.
// Since there might be multiple calls to this for the same agent
// we check for an existing one for the agentName.
func NewSourceLogObject(logger *logrus.Logger, agentName string, agentPid int) *LogObject {
	value, ok := logSourceObjectMap.Load(agentName)
	if ok {
		object, ok := value.(*LogObject)
		if ok {
			return object
		}
		logrus.Fatalf("NewSourceLogObject: Object found is not of type *LogObject, found: %T",
			value)
	}

	object := new(LogObject)
	object.logger = logger
	object.Initialized = true
	fields := make(map[string]interface{})
	fields["source"] = agentName
	fields["pid"] = agentPid
	object.Fields = fields
	logSourceObjectMap.Store(agentName, object)
	return object
}

// NewLogObject : derive an object-scoped LogObject from an agent-level one.
// objType and key are mandatory; the returned object logs with obj_type,
// obj_name and obj_key fields merged on top of the base fields.
func NewLogObject(logBase *LogObject, objType LogObjectType, objName string, key string) *LogObject {
	if logBase == nil {
		logrus.Fatalf("NewLogObject: no logBase for %s/%s/%s",
			string(objType), objName, key)
	}
	if objType == UnknownLogType || len(key) == 0 {
		logrus.Fatal("NewLogObject: objType and key parameters mandatory")
	}
	object := new(LogObject)
	fields := make(map[string]interface{})
	fields["log_event_type"] = LogObjectEventType
	fields["obj_type"] = objType
	if len(objName) != 0 {
		fields["obj_name"] = objName
	}
	fields["obj_key"] = key
	object.Fields = fields
	object.logger = logBase.logger
	object.Merge(logBase)
	object.Initialized = true
	return object
}

// Merge : merge source object fields into the destination object.
// Only the fields not already present in the destination are copied.
func (object *LogObject) Merge(source *LogObject) *LogObject {
	for key, value := range source.Fields {
		if _, ok := object.Fields[key]; !ok {
			object.Fields[key] = value
		}
	}
	return object
}

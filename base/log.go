// Copyright (c) 2024 Stani56
// SPDX-License-Identifier: Apache-2.0

package base

import (
	"github.com/sirupsen/logrus"
)

// Trace :
func (object *LogObject) Trace(args ...interface{}) {
	if !object.Initialized {
		logrus.Fatal("LogObject used without initialization")
		return
	}
	object.logger.WithFields(object.Fields).Trace(args...)
}

// Debug :
func (object *LogObject) Debug(args ...interface{}) {
	if !object.Initialized {
		logrus.Fatal("LogObject used without initialization")
		return
	}
	object.logger.WithFields(object.Fields).Debug(args...)
}

// Info :
func (object *LogObject) Info(args ...interface{}) {
	if !object.Initialized {
		logrus.Fatal("LogObject used without initialization")
		return
	}
	object.logger.WithFields(object.Fields).Info(args...)
}

// Warn :
func (object *LogObject) Warn(args ...interface{}) {
	if !object.Initialized {
		logrus.Fatal("LogObject used without initialization")
		return
	}
	object.logger.WithFields(object.Fields).Warn(args...)
}

// Warning :
func (object *LogObject) Warning(args ...interface{}) {
	if !object.Initialized {
		logrus.Fatal("LogObject used without initialization")
		return
	}
	object.logger.WithFields(object.Fields).Warning(args...)
}

// Error :
func (object *LogObject) Error(args ...interface{}) {
	if !object.Initialized {
		logrus.Fatal("LogObject used without initialization")
		return
	}
	object.logger.WithFields(object.Fields).Error(args...)
}

// Fatal :
func (object *LogObject) Fatal(args ...interface{}) {
	if !object.Initialized {
		logrus.Fatal("LogObject used without initialization")
		return
	}
	object.logger.WithFields(object.Fields).Fatal(args...)
}

// Tracef :
func (object *LogObject) Tracef(format string, args ...interface{}) {
	if !object.Initialized {
		logrus.Fatal("LogObject used without initialization")
		return
	}
	object.logger.WithFields(object.Fields).Tracef(format, args...)
}

// Debugf :
func (object *LogObject) Debugf(format string, args ...interface{}) {
	if !object.Initialized {
		logrus.Fatal("LogObject used without initialization")
		return
	}
	object.logger.WithFields(object.Fields).Debugf(format, args...)
}

// Infof :
func (object *LogObject) Infof(format string, args ...interface{}) {
	if !object.Initialized {
		logrus.Fatal("LogObject used without initialization")
		return
	}
	object.logger.WithFields(object.Fields).Infof(format, args...)
}

// Warnf :
func (object *LogObject) Warnf(format string, args ...interface{}) {
	if !object.Initialized {
		logrus.Fatal("LogObject used without initialization")
		return
	}
	object.logger.WithFields(object.Fields).Warnf(format, args...)
}

// Warningf :
func (object *LogObject) Warningf(format string, args ...interface{}) {
	if !object.Initialized {
		logrus.Fatal("LogObject used without initialization")
		return
	}
	object.logger.WithFields(object.Fields).Warningf(format, args...)
}

// Errorf :
func (object *LogObject) Errorf(format string, args ...interface{}) {
	if !object.Initialized {
		logrus.Fatal("LogObject used without initialization")
		return
	}
	object.logger.WithFields(object.Fields).Errorf(format, args...)
}

// Fatalf :
func (object *LogObject) Fatalf(format string, args ...interface{}) {
	if !object.Initialized {
		logrus.Fatal("LogObject used without initialization")
		return
	}
	object.logger.WithFields(object.Fields).Fatalf(format, args...)
}

// Infoln :
func (object *LogObject) Infoln(args ...interface{}) {
	if !object.Initialized {
		logrus.Fatal("LogObject used without initialization")
		return
	}
	object.logger.WithFields(object.Fields).Infoln(args...)
}

// Warnln :
func (object *LogObject) Warnln(args ...interface{}) {
	if !object.Initialized {
		logrus.Fatal("LogObject used without initialization")
		return
	}
	object.logger.WithFields(object.Fields).Warnln(args...)
}

// Errorln :
func (object *LogObject) Errorln(args ...interface{}) {
	if !object.Initialized {
		logrus.Fatal("LogObject used without initialization")
		return
	}
	object.logger.WithFields(object.Fields).Errorln(args...)
}

// Fatalln :
func (object *LogObject) Fatalln(args ...interface{}) {
	if !object.Initialized {
		logrus.Fatal("LogObject used without initialization")
		return
	}
	object.logger.WithFields(object.Fields).Fatalln(args...)
}

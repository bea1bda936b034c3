package mdns

import "github.com/sirupsen/logrus"

// Log is the package-level logger every component in this module writes
// through. Embedders replace it wholesale (mdns.Log = myLogger) rather than
// threading a logger through every constructor.
var Log logrus.FieldLogger = logrus.StandardLogger()

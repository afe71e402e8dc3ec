// Package dbus exposes the session manager on the bus as the
// org.kcbridge.Session1 interface. It provides the service exported by
// kcbridged, the client used by the kcbridge CLI, and the mapping
// between session errors and named D-Bus errors.
package dbus

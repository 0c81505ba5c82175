// Package comauto implements the instrument Dialer/Conn interfaces against
// the application's COM automation object. It is only functional on Windows;
// on other platforms Dial reports the endpoint as unreachable.
//
// COM apartments are thread-affine, so each connection pins a dedicated OS
// thread and funnels every call through it.
package comauto

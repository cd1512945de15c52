package transport

// SetOpener replaces the serial port opener.
func SetOpener(c *SerialConnector, open func(name string, baud int) (Port, error)) {
	c.open = open
}

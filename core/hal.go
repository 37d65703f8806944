package core

// GPIOPin identifies a hardware GPIO pin number
type GPIOPin uint32

// GPIODriver switches the cluster's digital outputs (ignition enable,
// dial illumination). Targets implement it over their GPIO block.
type GPIODriver interface {
	// ConfigureOutput makes pin a push-pull output
	ConfigureOutput(pin GPIOPin) error

	SetPin(pin GPIOPin, value bool) error
	GetPin(pin GPIOPin) (bool, error)
}

// I2CBusID selects a controller (0 for I2C0, 1 for I2C1)
type I2CBusID uint8

// I2CAddress is a 7-bit device address
type I2CAddress uint8

// I2CDriver carries register traffic to the motor shields
type I2CDriver interface {
	// ConfigureBus brings up a bus at frequencyHz. Calling it again only
	// changes the clock.
	ConfigureBus(bus I2CBusID, frequencyHz uint32) error

	// Write sends data as one transaction; the first byte is the register
	Write(bus I2CBusID, addr I2CAddress, data []byte) error

	// Read writes regData (if any), then reads readLen bytes after a
	// repeated start
	Read(bus I2CBusID, addr I2CAddress, regData []byte, readLen uint8) ([]byte, error)
}

// Drivers registered by the target at startup
var (
	gpioDriver GPIODriver
	i2cDriver  I2CDriver
)

// SetGPIODriver registers the target's GPIO driver
func SetGPIODriver(d GPIODriver) {
	gpioDriver = d
}

// SetI2CDriver registers the target's I2C driver
func SetI2CDriver(d I2CDriver) {
	i2cDriver = d
}

// MustGPIO returns the registered GPIO driver. Panics during setup if the
// target forgot to register one.
func MustGPIO() GPIODriver {
	if gpioDriver == nil {
		panic("GPIO driver not configured")
	}
	return gpioDriver
}

// MustI2C returns the registered I2C driver
func MustI2C() I2CDriver {
	if i2cDriver == nil {
		panic("I2C driver not configured")
	}
	return i2cDriver
}

// Package repair schedules anti-entropy repairs on idle nodes using offers
// left over after plan scheduling. Repair never competes with deployment:
// while any plan block is in progress no repair is launched.
package repair

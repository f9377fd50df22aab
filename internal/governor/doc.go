// Package governor admits new pipeline work per owner against a daily item
// cap and a monthly cost budget.
//
// Admission is two guarded single-statement updates on the owner row: a
// window reset (idempotent under concurrency) followed by a conditional
// increment. Cost is never charged here; stage commits accrue it, so items
// already in flight may push an owner over budget while new admissions are
// refused.
package governor

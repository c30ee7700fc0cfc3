package memaccount

// Estimators implement spec.md §4.2's pre-allocation sizing rules. Each
// returns the estimated byte cost of an operation's result, to be
// passed to Accountant.Track *before* the real allocation runs.

// EstimateString costs a string at length*2 + 40 bytes (UTF-16-ish
// code unit accounting plus a fixed object header).
func EstimateString(length int) int64 {
	return int64(length)*2 + 40
}

// EstimateArray costs an array at 32 + length*8 bytes.
func EstimateArray(length int) int64 {
	return 32 + int64(length)*8
}

// EstimateObject costs an object at 56 + propertyCount*32 bytes.
func EstimateObject(propertyCount int) int64 {
	return 56 + int64(propertyCount)*32
}

// EstimateRepeat costs str.repeat(count): length*count*2.
func EstimateRepeat(length, count int) int64 {
	if count < 0 {
		count = 0
	}
	return int64(length) * int64(count) * 2
}

// EstimateJoin costs arr.join(sep): sum of stringified element lengths,
// plus sep.length*(n-1), all doubled.
func EstimateJoin(elementLengths []int, sepLength int) int64 {
	var sum int64
	for _, l := range elementLengths {
		sum += int64(l)
	}
	n := len(elementLengths)
	if n > 1 {
		sum += int64(sepLength) * int64(n-1)
	}
	return sum * 2
}

// EstimatePad costs padStart/padEnd(target): max(current, target)*2.
func EstimatePad(current, target int) int64 {
	m := current
	if target > m {
		m = target
	}
	return int64(m) * 2
}

// EstimateFill costs arr.fill(value, start, end): clamp(end-start)*8.
func EstimateFill(start, end int) int64 {
	n := end - start
	if n < 0 {
		n = 0
	}
	return int64(n) * 8
}
